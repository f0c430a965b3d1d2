//go:build !gohome_without_falcon_pi_player

package plugins

import (
	"github.com/joshp123/gohome-fpp/plugins/falcon_pi_player"
)

func init() {
	Register(falcon_pi_player.Factory)
}
