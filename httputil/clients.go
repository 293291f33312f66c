package httputil

import (
	"net/http"
	"time"
)

type Clients struct {
	Replication *http.Client // long-running paginated pulls
	API         *http.Client // single-record and photo lookups
}

func NewClients() *Clients {
	return &Clients{
		Replication: &http.Client{Timeout: 90 * time.Second},
		API:         &http.Client{Timeout: 30 * time.Second},
	}
}
