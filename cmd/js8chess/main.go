// Command js8chess bridges a UCI chess front-end to a remote correspondent
// reached over an amateur-radio digital text mode, via a JS8Call-compatible
// daemon socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/seekerror/logw"

	"github.com/aqueum/js8chess/pkg/config"
	"github.com/aqueum/js8chess/pkg/controller"
	"github.com/aqueum/js8chess/pkg/lineio"
	"github.com/aqueum/js8chess/pkg/protocol"
	"github.com/aqueum/js8chess/pkg/radio"
)

var (
	propose  = flag.String("propose", "", "Send a new game proposal on startup, playing W or B")
	loglevel = flag.String("loglevel", "INFO", "Log verbosity: DEBUG, INFO, WARNING, or ERROR")
)

func main() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "js8chess bridges a UCI chess front-end to a JS8Call correspondent.\n\n")
		_, _ = fmt.Fprintf(os.Stderr, "Usage: js8chess [options]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := config.Load()
	setupLogging(*loglevel)

	ctx := context.Background()

	var ctrl *controller.Controller
	bridge := radio.NewBridge(cfg.JS8Host, cfg.JS8Port, func(from, to, text string) {
		if ctrl != nil {
			ctrl.OnRadioMessage(from, to, text)
		}
	})

	in := lineio.ReadStdinLines(ctx)
	switch <-in {
	case controller.ProtocolName:
		var out <-chan string
		ctrl, out = controller.NewController(ctx, cfg, bridge, in)
		go lineio.WriteStdoutLines(ctx, out)

		bridge.Start(ctx)

		if *propose != "" {
			color := protocol.White
			if strings.EqualFold(*propose, "B") {
				color = protocol.Black
			}
			ctrl.SendNewProposal(ctx, color)
		}

		<-ctrl.Closed()

	default:
		flag.Usage()
		logw.Exitf(ctx, "Protocol not supported")
	}
}

// setupLogging wires --loglevel to glog's flags: a log file under the
// config directory always receives output; stderr sees WARNING and above,
// or only ERROR with --loglevel ERROR. DEBUG raises glog's verbosity (-v)
// but does not lower the stderr threshold.
func setupLogging(level string) {
	home, err := config.Home()
	if err != nil {
		return
	}
	logDir := filepath.Join(home, "log")
	_ = os.MkdirAll(logDir, 0o750)

	_ = flag.Set("log_dir", logDir)
	_ = flag.Set("stderrthreshold", "WARNING")

	switch strings.ToUpper(level) {
	case "DEBUG":
		_ = flag.Set("v", "2")
	case "WARNING":
		_ = flag.Set("stderrthreshold", "WARNING")
	case "ERROR":
		_ = flag.Set("stderrthreshold", "ERROR")
	default:
		_ = flag.Set("v", "0")
	}
}
