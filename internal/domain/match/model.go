package match

import (
	"strings"
	"time"
)

type Family string

const (
	FamilyHeadToHead     Family = "head_to_head"
	FamilyTeamHeadToHead Family = "team_head_to_head"
	FamilyOther          Family = "other"
)

// ParseFamily maps the raw mode labels seen in the feed onto a Family.
func ParseFamily(value string) Family {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.NewReplacer("-", "_", " ", "_").Replace(v)
	switch v {
	case "head_to_head", "duel", "duels", "h2h":
		return FamilyHeadToHead
	case "team_head_to_head", "team_duel", "team_duels", "teamduels", "team_h2h":
		return FamilyTeamHeadToHead
	default:
		return FamilyOther
	}
}

// Ingestible reports whether detail ingestion covers the family.
func (f Family) Ingestible() bool {
	return f == FamilyHeadToHead || f == FamilyTeamHeadToHead
}

func (f Family) IsTeam() bool {
	return f == FamilyTeamHeadToHead
}

// FeedMatch is one entry of the user's match feed. Read-only for ingestion.
type FeedMatch struct {
	ID           string
	Family       Family
	PlayedAt     time.Time
	RawModeLabel string
}

type Role string

const (
	RoleSelf         Role = "self"
	RoleMate         Role = "mate"
	RoleOpponent     Role = "opponent"
	RoleOpponentMate Role = "opponent_mate"
)

// Roles is the positional order used when assigning roles to players.
var Roles = [...]Role{RoleSelf, RoleMate, RoleOpponent, RoleOpponentMate}

func (r Role) Valid() bool {
	switch r {
	case RoleSelf, RoleMate, RoleOpponent, RoleOpponentMate:
		return true
	default:
		return false
	}
}
