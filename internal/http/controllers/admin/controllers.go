// Package admin groups the administrative controllers: user roles and
// permissions, ticket revocation, the IP blacklist, the security event
// trail, and ticket analytics.
package admin

import (
	"github.com/streamgate/streamgate/internal/access"
	"github.com/streamgate/streamgate/internal/media"
	"github.com/streamgate/streamgate/internal/rate"
	"github.com/streamgate/streamgate/internal/store/core"
	"github.com/streamgate/streamgate/internal/ticket"
)

type Controllers struct {
	Users     *UsersController
	Tickets   *TicketsController
	Blacklist *BlacklistController
	Events    *EventsController
	Analytics *AnalyticsController
	Content   *ContentController
}

func NewControllers(ac *access.Service, tickets *ticket.Service, limiter *rate.Service, repo core.Repository, resolver *media.Resolver) *Controllers {
	return &Controllers{
		Users:     NewUsersController(ac),
		Tickets:   NewTicketsController(tickets),
		Blacklist: NewBlacklistController(limiter),
		Events:    NewEventsController(ac),
		Analytics: NewAnalyticsController(tickets),
		Content:   NewContentController(repo, resolver),
	}
}
