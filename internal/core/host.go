package core

import (
	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-fpp/internal/entity"
	"github.com/joshp123/gohome-fpp/internal/entries"
	"github.com/joshp123/gohome-fpp/internal/httpsession"
)

// Host is the hub runtime handed to plugin factories.
type Host struct {
	Entries  *entries.Manager
	Entities *entity.Registry
	Sessions *httpsession.Pool
	Logger   logrus.FieldLogger
}
