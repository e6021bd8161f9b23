package duelsapi

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/riskibarqy/duel-ingest/internal/domain/match"
	"gopkg.in/yaml.v3"
)

//go:embed endpoints.yaml
var defaultEndpointsYAML []byte

const (
	matchIDPlaceholder  = "{matchId}"
	playerIDPlaceholder = "{playerId}"
)

type EndpointTable struct {
	Hosts    []string                  `yaml:"hosts"`
	Families map[match.Family][]string `yaml:"families"`
	Profile  ProfileEndpoints          `yaml:"profile"`
}

type ProfileEndpoints struct {
	Host     string `yaml:"host"`
	UserPath string `yaml:"user_path"`
	SelfPath string `yaml:"self_path"`
}

// DefaultEndpointTable returns the embedded table.
func DefaultEndpointTable() (*EndpointTable, error) {
	return ParseEndpointTable(defaultEndpointsYAML)
}

// LoadEndpointTable reads an override file, or the embedded table when path is empty.
func LoadEndpointTable(path string) (*EndpointTable, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultEndpointTable()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read endpoint table %s: %w", path, err)
	}
	return ParseEndpointTable(raw)
}

func ParseEndpointTable(raw []byte) (*EndpointTable, error) {
	var table EndpointTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("decode endpoint table: %w", err)
	}

	hosts := make([]string, 0, len(table.Hosts))
	for _, h := range table.Hosts {
		h = strings.TrimRight(strings.TrimSpace(h), "/")
		if h == "" {
			continue
		}
		if _, err := url.ParseRequestURI(h); err != nil {
			return nil, fmt.Errorf("invalid endpoint host %q: %w", h, err)
		}
		hosts = append(hosts, h)
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("endpoint table has no hosts")
	}
	table.Hosts = hosts

	for family, paths := range table.Families {
		if !family.Ingestible() {
			return nil, fmt.Errorf("endpoint table lists unsupported family %q", family)
		}
		for _, p := range paths {
			if !strings.Contains(p, matchIDPlaceholder) {
				return nil, fmt.Errorf("endpoint path %q has no %s placeholder", p, matchIDPlaceholder)
			}
		}
	}
	if len(table.Families[match.FamilyHeadToHead]) == 0 && len(table.Families[match.FamilyTeamHeadToHead]) == 0 {
		return nil, fmt.Errorf("endpoint table has no family paths")
	}

	table.Profile.Host = strings.TrimRight(strings.TrimSpace(table.Profile.Host), "/")
	if table.Profile.Host == "" {
		table.Profile.Host = hosts[len(hosts)-1]
	}
	return &table, nil
}

// Candidates lists every URL that may serve the match detail. The match's
// own family comes first, then the other family, each path over every host.
func (t *EndpointTable) Candidates(m match.FeedMatch) []string {
	id := url.PathEscape(strings.TrimSpace(m.ID))
	if id == "" {
		return nil
	}

	primary, secondary := match.FamilyHeadToHead, match.FamilyTeamHeadToHead
	if m.Family.IsTeam() {
		primary, secondary = secondary, primary
	}

	seen := make(map[string]struct{})
	out := make([]string, 0, len(t.Hosts)*(len(t.Families[primary])+len(t.Families[secondary])))
	for _, family := range []match.Family{primary, secondary} {
		for _, path := range t.Families[family] {
			for _, host := range t.Hosts {
				u := host + strings.ReplaceAll(path, matchIDPlaceholder, id)
				if _, ok := seen[u]; ok {
					continue
				}
				seen[u] = struct{}{}
				out = append(out, u)
			}
		}
	}
	return out
}

func (t *EndpointTable) ProfileURL(playerID string) string {
	if t.Profile.UserPath == "" {
		return ""
	}
	return t.Profile.Host + strings.ReplaceAll(t.Profile.UserPath, playerIDPlaceholder, url.PathEscape(playerID))
}

func (t *EndpointTable) SelfURL() string {
	if t.Profile.SelfPath == "" {
		return ""
	}
	return t.Profile.Host + t.Profile.SelfPath
}

// WithHosts returns a copy of the table serving the same detail paths from
// hosts. Profile endpoints are left as configured.
func (t *EndpointTable) WithHosts(hosts []string) *EndpointTable {
	if len(hosts) == 0 {
		return t
	}
	out := *t
	out.Hosts = make([]string, 0, len(hosts))
	for _, h := range hosts {
		out.Hosts = append(out.Hosts, strings.TrimRight(strings.TrimSpace(h), "/"))
	}
	return &out
}
