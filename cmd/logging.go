package cmd

import (
	log "github.com/sirupsen/logrus"

	"github.com/victorjacobs/go-vallox/config"
)

func configureLogging(cfg config.Logging) {
	lvl, err := log.ParseLevel(cfg.Level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)

	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.Debugf("Log level set to: %s", lvl)
}
