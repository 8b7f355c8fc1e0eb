// Package access resolves caller roles and decides which operations each role
// may invoke.
package access

import (
	"context"
	"errors"

	"moviezone-tg-bot/internal/apperr"
	"moviezone-tg-bot/internal/storage"
	"moviezone-tg-bot/internal/tg"
)

type Operation string

const (
	OpAddMovie       Operation = "add_movie"
	OpRemoveMovie    Operation = "remove_movie"
	OpManageAdmins   Operation = "manage_admins"
	OpManageChannels Operation = "manage_channels"
	OpShowStats      Operation = "show_stats"
	OpViewRequests   Operation = "view_requests"
	OpFulfilRequest  Operation = "fulfil_request"
	OpSearch         Operation = "search"
	OpBrowse         Operation = "browse"
	OpRequestMovie   Operation = "request_movie"
	OpDownload       Operation = "download"
)

var staffOps = []Operation{OpAddMovie, OpRemoveMovie, OpShowStats, OpViewRequests, OpFulfilRequest, OpSearch, OpBrowse, OpDownload}

var permissions = map[storage.Role]map[Operation]bool{
	storage.RoleOwner: set(append([]Operation{OpManageAdmins, OpManageChannels}, staffOps...)...),
	storage.RoleAdmin: set(staffOps...),
	storage.RoleUser:  set(OpSearch, OpBrowse, OpRequestMovie, OpDownload),
}

func set(ops ...Operation) map[Operation]bool {
	m := make(map[Operation]bool, len(ops))
	for _, op := range ops {
		m[op] = true
	}
	return m
}

// menus lists the idle command menu of each role in display order.
var menus = map[storage.Role][]tg.BotCommand{
	storage.RoleOwner: {
		{Command: "addmovie", Description: "Add a movie"},
		{Command: "removemovie", Description: "Remove a movie"},
		{Command: "stats", Description: "Download statistics"},
		{Command: "requests", Description: "Pending movie requests"},
		{Command: "admins", Description: "Manage admins"},
		{Command: "channels", Description: "Manage channels"},
		{Command: "search", Description: "Search the catalog"},
		{Command: "browse", Description: "Browse by category or letter"},
	},
	storage.RoleAdmin: {
		{Command: "addmovie", Description: "Add a movie"},
		{Command: "removemovie", Description: "Remove a movie"},
		{Command: "stats", Description: "Download statistics"},
		{Command: "requests", Description: "Pending movie requests"},
		{Command: "search", Description: "Search the catalog"},
		{Command: "browse", Description: "Browse by category or letter"},
	},
	storage.RoleUser: {
		{Command: "search", Description: "Search the catalog"},
		{Command: "browse", Description: "Browse by category or letter"},
		{Command: "request", Description: "Request a movie"},
	},
}

// SessionMenu is the only menu shown while a dialog is active.
var SessionMenu = []tg.BotCommand{{Command: "cancel", Description: "Cancel the current dialog"}}

type AdminLookup interface {
	GetAdmin(ctx context.Context, id int64) (*storage.Admin, error)
}

// Guard never mutates roles; the owner is fixed by configuration.
type Guard struct {
	ownerID int64
	admins  AdminLookup
}

func NewGuard(ownerID int64, admins AdminLookup) *Guard {
	return &Guard{ownerID: ownerID, admins: admins}
}

func (g *Guard) OwnerID() int64 { return g.ownerID }

func (g *Guard) IsOwner(id int64) bool { return id != 0 && id == g.ownerID }

func (g *Guard) ResolveRole(ctx context.Context, id int64) (storage.Role, error) {
	if g.IsOwner(id) {
		return storage.RoleOwner, nil
	}
	_, err := g.admins.GetAdmin(ctx, id)
	switch {
	case err == nil:
		return storage.RoleAdmin, nil
	case errors.Is(err, apperr.ErrNotFound):
		return storage.RoleUser, nil
	default:
		return storage.RoleUser, err
	}
}

// Authorize returns the caller's role, or a denied error when the role may
// not invoke op. The error carries no message so nothing about op leaks.
func (g *Guard) Authorize(ctx context.Context, id int64, op Operation) (storage.Role, error) {
	role, err := g.ResolveRole(ctx, id)
	if err != nil {
		return role, err
	}
	if !Allowed(role, op) {
		return role, apperr.Denied(string(op))
	}
	return role, nil
}

func Allowed(role storage.Role, op Operation) bool {
	return permissions[role][op]
}

func Menu(role storage.Role) []tg.BotCommand {
	m, ok := menus[role]
	if !ok {
		m = menus[storage.RoleUser]
	}
	return append([]tg.BotCommand(nil), m...)
}

// CheckManageable rejects role changes that target the owner.
func (g *Guard) CheckManageable(id int64) error {
	if g.IsOwner(id) {
		return apperr.Validation("manage_admin", "The owner can't be added or removed.")
	}
	if id <= 0 {
		return apperr.Validation("manage_admin", "That doesn't look like a Telegram user id.")
	}
	return nil
}
