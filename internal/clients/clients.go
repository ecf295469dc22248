package clients

import (
	"nst/gatekeeper/internal/config"
)

type Clients struct {
	Directory *DirectoryClient
	Notifier  *NotifierClient
}

func New(cfg config.Config) *Clients {
	return &Clients{
		Directory: NewDirectoryClient(cfg.DirectoryURL, cfg.ClientTimeout, cfg.RoleCacheSize, cfg.RoleCacheTTL),
		Notifier:  NewNotifierClient(cfg.NotifierURL, cfg.ClientTimeout),
	}
}
