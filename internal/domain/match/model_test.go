package match

import "testing"

func TestParseFamily(t *testing.T) {
	t.Parallel()

	cases := map[string]Family{
		"Duels":             FamilyHeadToHead,
		"head-to-head":      FamilyHeadToHead,
		"TeamDuels":         FamilyTeamHeadToHead,
		"team head to head": FamilyTeamHeadToHead,
		"BattleRoyale":      FamilyOther,
		"":                  FamilyOther,
	}
	for in, want := range cases {
		if got := ParseFamily(in); got != want {
			t.Fatalf("ParseFamily(%q)=%q, want %q", in, got, want)
		}
	}
	if FamilyOther.Ingestible() {
		t.Fatalf("other family must not be ingestible")
	}
}
