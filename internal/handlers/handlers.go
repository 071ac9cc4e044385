package handlers

import (
	"time"

	"dicom-indexer/internal/catalog"
	"dicom-indexer/internal/indexer"
	"dicom-indexer/internal/sharing"
	"dicom-indexer/internal/startup"
)

type Handlers struct {
	indexer *indexer.Indexer
	cache   *catalog.Cache
	shares  *sharing.Manager
	config  *startup.Config
	started time.Time
}

func New(ix *indexer.Indexer, cache *catalog.Cache, shares *sharing.Manager, config *startup.Config) *Handlers {
	return &Handlers{
		indexer: ix,
		cache:   cache,
		shares:  shares,
		config:  config,
		started: time.Now(),
	}
}
