package app

import "time"

const (
	Name               = "myolink"
	SourceURL          = "https://git.skobk.in/skobkin/myolink"
	ConfigFilename     = "config.json"
	DBFilename         = "catalog.db"
	LogFilename        = "app.log"
	BuffersDir         = "buffers"
	RecordingsDir      = "recordings"
	CatalogQueueSize   = 64
	ShutdownFlushLimit = 5 * time.Second
)
