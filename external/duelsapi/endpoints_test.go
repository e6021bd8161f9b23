package duelsapi

import (
	"reflect"
	"testing"

	"github.com/riskibarqy/duel-ingest/internal/domain/match"
)

func TestDefaultEndpointTable(t *testing.T) {
	t.Parallel()

	table, err := DefaultEndpointTable()
	if err != nil {
		t.Fatalf("DefaultEndpointTable error: %v", err)
	}
	if len(table.Hosts) < 2 {
		t.Fatalf("expected at least two hosts, got %v", table.Hosts)
	}
	if table.ProfileURL("abc") == "" || table.SelfURL() == "" {
		t.Fatalf("expected profile endpoints to be configured")
	}
}

func TestEndpointTableCandidates_PrimaryFamilyFirst(t *testing.T) {
	t.Parallel()

	table, err := ParseEndpointTable([]byte(`
hosts: ["https://a.example/", "https://b.example"]
families:
  head_to_head: ["/api/duels/{matchId}", "/api/shared/{matchId}"]
  team_head_to_head: ["/api/team-duels/{matchId}", "/api/shared/{matchId}"]
`))
	if err != nil {
		t.Fatalf("ParseEndpointTable error: %v", err)
	}

	got := table.Candidates(match.FeedMatch{ID: "m1", Family: match.FamilyTeamHeadToHead})
	want := []string{
		"https://a.example/api/team-duels/m1",
		"https://b.example/api/team-duels/m1",
		"https://a.example/api/shared/m1",
		"https://b.example/api/shared/m1",
		"https://a.example/api/duels/m1",
		"https://b.example/api/duels/m1",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("team candidates mismatch\n got: %v\nwant: %v", got, want)
	}

	got = table.Candidates(match.FeedMatch{ID: "m1", Family: match.FamilyHeadToHead})
	if got[0] != "https://a.example/api/duels/m1" || len(got) != 6 {
		t.Fatalf("unexpected head-to-head candidates: %v", got)
	}
	if table.Candidates(match.FeedMatch{ID: " "}) != nil {
		t.Fatalf("expected no candidates for empty id")
	}
}

func TestParseEndpointTable_Validation(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"no hosts":       `families: {head_to_head: ["/x/{matchId}"]}`,
		"no placeholder": `{hosts: ["https://a.example"], families: {head_to_head: ["/x"]}}`,
		"bad family":     `{hosts: ["https://a.example"], families: {battle_royale: ["/x/{matchId}"]}}`,
		"no paths":       `{hosts: ["https://a.example"]}`,
	}
	for name, raw := range cases {
		if _, err := ParseEndpointTable([]byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestEndpointTable_WithHosts(t *testing.T) {
	t.Parallel()

	table, err := DefaultEndpointTable()
	if err != nil {
		t.Fatalf("DefaultEndpointTable error: %v", err)
	}
	override := table.WithHosts([]string{"http://localhost:9000/"})

	got := override.Candidates(match.FeedMatch{ID: "m1", Family: match.FamilyHeadToHead})
	if len(got) == 0 || got[0] != "http://localhost:9000/api/duels/m1" {
		t.Fatalf("unexpected candidates %v", got)
	}
	if len(table.Hosts) < 2 || table.Hosts[0] == "http://localhost:9000" {
		t.Fatalf("original table must not change, got %v", table.Hosts)
	}
	if override.SelfURL() != table.SelfURL() {
		t.Fatalf("profile endpoints must be kept, got %q", override.SelfURL())
	}
	if table.WithHosts(nil) != table {
		t.Fatalf("empty override must return the same table")
	}
}
