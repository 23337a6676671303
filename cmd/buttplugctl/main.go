// Command buttplugctl is a small demo/integration harness that wires a
// Device Manager, the fake Communication Manager, and a Client Event
// Loop together over the in-process Connector, for manual exercise and
// as an end-to-end fixture driver (SPEC_FULL.md's "Supplemented
// Features" #3). It is not a protocol CLI — spec.md explicitly places
// CLI entry points out of scope as a feature — but every component it
// wires is in scope. Styled after the teacher's own kr.go: one
// urfave/cli app, one Action func per subcommand.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kryptco/buttplug/client"
	"github.com/kryptco/buttplug/commgr/fake"
	"github.com/kryptco/buttplug/config"
	"github.com/kryptco/buttplug/connector/inprocess"
	"github.com/kryptco/buttplug/devicemgr"
	"github.com/kryptco/buttplug/internal/bplog"
	"github.com/kryptco/buttplug/protocol"
	"github.com/op/go-logging"
	"github.com/urfave/cli"
)

var log = bplog.New("buttplugctl", logging.NOTICE)

func main() {
	app := cli.NewApp()
	app.Name = "buttplugctl"
	app.Usage = "exercise a buttplug Device Manager + Client Event Loop pair in one process"
	app.Flags = []cli.Flag{
		cli.DurationFlag{Name: "ping-timeout", Usage: "override the configured ping-timeout watchdog"},
	}
	app.Commands = []cli.Command{
		{
			Name:   "demo",
			Usage:  "register a scripted fake device, scan, vibrate it, then disconnect",
			Action: demoCommand,
		},
		{
			Name:   "list",
			Usage:  "print the current config.toml resolved values",
			Action: listConfigCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func listConfigCommand(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	fmt.Printf("ping_timeout=%s broadcast_buffer_len=%d enable_ble=%v enable_network_emu=%v scan_window=%s\n",
		cfg.PingTimeout, cfg.BroadcastBufferLen, cfg.EnableBLE, cfg.EnableNetworkEmu, cfg.ScanWindow)
	return nil
}

// demoCommand is the harness's single end-to-end scenario: it
// reproduces spec §8 scenario 1 and 3 (happy path + command dispatch)
// against a scripted fake.Manager/fake.Identifier pair, narrated with
// the colorized output bplog wires from the teacher's color.go.
func demoCommand(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if d := c.Duration("ping-timeout"); d > 0 {
		cfg.PingTimeout = d
	}

	identifier := fake.NewIdentifier()
	mgr := devicemgr.New(identifier, cfg.BroadcastBufferLen, log)
	commMgr := fake.NewManager(mgr.CommEventChan())
	mgr.AddCommunicationManager(commMgr)

	pingTimeout := make(chan struct{})
	go mgr.Run(pingTimeout)
	time.AfterFunc(cfg.PingTimeout, func() { close(pingTimeout) })

	conn := inprocess.New(mgr)
	go conn.Run()

	cl := client.New(conn, log, client.OnDeviceAdded(func(d *client.ClientDevice) {
		fmt.Println(bplog.Green(fmt.Sprintf("device added: index=%d name=%q", d.Info.Index, d.Info.Name)))
		go streamAndVibrate(d)
	}), client.OnDeviceRemoved(func(info protocol.DeviceMessageInfo) {
		fmt.Println(bplog.Red(fmt.Sprintf("device removed: index=%d", info.Index)))
	}))
	go cl.Run()

	dev := fake.NewDevice("Demo Vibrator", protocol.MessageAttributes{
		VibrateCmd: &protocol.GenericAttributes{FeatureCount: 2},
	})
	identifier.Bind("demo-1", dev)
	commMgr.Enqueue(&fake.Creator{Addr: "demo-1", Protocol: "demo", Name: "Demo Vibrator"})

	fmt.Println(bplog.Cyan("scanning..."))
	ctx := context.Background()
	if _, err := cl.ManagerCommand(ctx, waitStartScanning()); err != nil {
		return err
	}

	time.Sleep(500 * time.Millisecond)
	return cl.Disconnect(ctx)
}

func waitStartScanning() protocol.ManagerCommand {
	return protocol.ManagerCommand{StartScanning: &protocol.StartScanning{}}
}

func streamAndVibrate(d *client.ClientDevice) {
	ctx := context.Background()
	if _, err := d.Vibrate(ctx, []protocol.VibrateSubcommand{{Index: 0, Speed: 0.5}}); err != nil {
		fmt.Println(bplog.Yellow("vibrate failed: " + err.Error()))
		return
	}
	fmt.Println(bplog.Magenta(fmt.Sprintf("vibrate ok: index=%d", d.Info.Index)))
}
