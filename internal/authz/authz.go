// Package authz holds the pure role predicates for lists. Roles nest:
// every admin is an editor, every editor is a viewer. Super-admin is
// the only role not derived from list data.
package authz

// PublicViewer is the sentinel viewer entry granting read access to
// every caller.
const PublicViewer = "public"

// User is the caller identity, an opaque subject from a verified token.
type User struct {
	Sub string
}

// ACL carries the access-control membership of a list.
type ACL struct {
	Admins  []string `json:"admins"`
	Editors []string `json:"editors"`
	Viewers []string `json:"viewers"`
}

// Authorizer knows the configured super-admin subjects. It carries no
// other state; list roles are evaluated against the list document
// fetched for each request.
type Authorizer struct {
	superAdmins map[string]struct{}
}

func New(superAdmins []string) *Authorizer {
	set := make(map[string]struct{}, len(superAdmins))
	for _, sub := range superAdmins {
		if sub != "" {
			set[sub] = struct{}{}
		}
	}
	return &Authorizer{superAdmins: set}
}

// IsSuperAdmin reports whether the user may create lists.
func (a *Authorizer) IsSuperAdmin(user User) bool {
	_, ok := a.superAdmins[user.Sub]
	return ok
}

// IsAdmin reports whether the user administers the list. A nil ACL
// denies: a missing list grants no role.
func IsAdmin(user User, acl *ACL) bool {
	if acl == nil {
		return false
	}
	return contains(acl.Admins, user.Sub)
}

// IsEditor reports whether the user may create, update or delete items.
func IsEditor(user User, acl *ACL) bool {
	if acl == nil {
		return false
	}
	return IsAdmin(user, acl) || contains(acl.Editors, user.Sub)
}

// IsViewer reports whether the user may read the list's items. A list
// whose viewers include PublicViewer is readable by anyone.
func IsViewer(user User, acl *ACL) bool {
	if acl == nil {
		return false
	}
	return IsEditor(user, acl) || contains(acl.Viewers, user.Sub) || contains(acl.Viewers, PublicViewer)
}

func contains(subs []string, sub string) bool {
	if sub == "" {
		return false
	}
	for _, candidate := range subs {
		if candidate == sub {
			return true
		}
	}
	return false
}
