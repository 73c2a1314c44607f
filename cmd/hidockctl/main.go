// hidockctl is the command-line entrypoint over the jensen device stack,
// following cmd/multiserver's command-dispatch shape (a lowercase
// os.Args[1] switch over help/mkconf/conf/run-style verbs) generalized
// to HiDock device operations instead of HTTP server bring-up.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/theckman/yacspin"

	"github.com/sgeraldes/hidock-next-sub001/internal/audiochunk"
	"github.com/sgeraldes/hidock-next-sub001/internal/config"
	"github.com/sgeraldes/hidock-next-sub001/internal/devicepool"
	"github.com/sgeraldes/hidock-next-sub001/internal/statusserver"
	"github.com/sgeraldes/hidock-next-sub001/jensen"
)

// Version is typically injected via ldflags at build time, matching the
// teacher's var Version = "dev"/"12" convention.
var Version = "dev"

func root() {
	fmt.Println(`hidockctl talks to a HiDock audio recorder over USB and exposes its
file listing, download, delete, and health-monitoring operations as a CLI.

Usage:
	hidockctl <command> [args]

Commands:
	discover                               list attached HiDock descriptors
	list <serial>                          list recordings on the device
	download <serial> <name> <out>         download a recording to a local file
	chunk <in> <maxbytes> <out-dir>        split a local recording into upload-sized chunks
	delete <serial> <name>                 delete a recording
	format <serial>                        format device storage
	sync-time <serial>                     push the host clock to the device
	health <serial>                        print derived health and stats
	serve <serial>                         run the read-only status HTTP server
	mkconf                                 write the default config file
	conf                                   print the effective config
	version                                print the version
	help                                   print configuration help`)
}

func help() {
	fmt.Println(`hidockctl reads ` + config.DefaultFileName + ` from the working directory if
present, layered over built-in defaults (see internal/config.Defaults).
Run "hidockctl mkconf" to write the defaults out as a starting point.`)
}

func mkconf() {
	if err := config.WriteDefault(config.DefaultFileName); err != nil {
		log.Fatal(err)
	}
}

func printconf(cfg config.Config) {
	if err := cfg.Dump(os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("hidockctl version %v\n", Version)
}

func loadConfig() config.Config {
	cfg, err := config.Load(config.DefaultFileName)
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

func newDevice(cfg config.Config) *jensen.Device {
	dev := jensen.NewDevice()
	dev.SetTimeouts(time.Duration(cfg.CommandTimeoutMS)*time.Millisecond, time.Duration(cfg.StreamTimeoutMS)*time.Millisecond)
	dev.SetScanIDs(cfg.VendorID, cfg.ProductIDs)
	dev.SetLogging(cfg.EnableVerboseLogging, cfg.EnableProtocolLogging)
	return dev
}

func newPool(cfg config.Config) *devicepool.Pool {
	pool := devicepool.NewPool(cfg.MaxOpenDevices, time.Duration(cfg.IdlePoolTimeoutMS)*time.Millisecond)
	pool.SetDeviceFactory(func() *jensen.Device { return newDevice(cfg) })
	return pool
}

func discover(cfg config.Config) {
	dev := newDevice(cfg)
	descs := dev.Discover(context.Background())
	if len(descs) == 0 {
		fmt.Println("no HiDock devices found")
		return
	}
	for _, d := range descs {
		fmt.Printf("%s  model=%s  vid=%#04x pid=%#04x\n", d.Serial, d.Model, uint16(d.VendorID), uint16(d.ProductID))
	}
}

func withDevice(cfg config.Config, serial string, fn func(*jensen.Device) error) {
	pool := newPool(cfg)
	defer pool.Close()

	ctx := context.Background()
	dev, err := pool.Get(ctx, serial, false)
	if err != nil {
		log.Fatalf("connect %s: %v", serial, err)
	}
	err = fn(dev)
	pool.ReturnWithError(serial, err)
	if err != nil {
		log.Fatal(err)
	}
}

func list(cfg config.Config, serial string) {
	withDevice(cfg, serial, func(dev *jensen.Device) error {
		records, err := dev.GetRecordings(context.Background())
		if err != nil {
			return err
		}
		for _, r := range records {
			created := "unknown"
			if r.CreatedAt != nil {
				created = r.CreatedAt.Format(time.RFC3339)
			}
			fmt.Printf("%-40s %10d bytes  %7.1fs  %s\n", r.Name, r.Length, r.DurationSeconds, created)
		}
		return nil
	})
}

// spinnerFor returns a running spinner themed per the teacher's
// fatih/color usage elsewhere in the pack's CLIs, stopped by the caller.
func spinnerFor(suffix string) *yacspin.Spinner {
	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[9],
		Suffix:          " " + suffix,
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	}
	s, err := yacspin.New(cfg)
	if err != nil {
		return nil
	}
	_ = s.Start()
	return s
}

func download(cfg config.Config, serial, name, outPath string) {
	f, err := os.Create(outPath)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	spin := spinnerFor("downloading " + name)
	withDevice(cfg, serial, func(dev *jensen.Device) error {
		progress := func(ev jensen.ProgressEvent) {
			if spin != nil {
				spin.Message(fmt.Sprintf("%.0f%%", ev.Progress*100))
			}
		}
		return dev.Download(context.Background(), name, f, progress, jensen.NewCancelToken(), 0)
	})
	if spin != nil {
		_ = spin.Stop()
	}
	color.Green("downloaded %s -> %s", name, outPath)
}

func chunk(cfg config.Config, inPath string, maxBytes int64, outDir string) {
	planner := audiochunk.NewPlanner(outDir)
	planner.MaxWorkers = cfg.AudioChunk.MaxWorkers

	spin := spinnerFor("chunking " + inPath)
	chunks, err := planner.Plan(context.Background(), inPath, maxBytes, cfg.AudioChunk.OverlapMS, func(completed, total int) {
		if spin != nil {
			spin.Message(fmt.Sprintf("%d/%d", completed, total))
		}
	}, jensen.NewCancelToken())
	if spin != nil {
		_ = spin.Stop()
	}
	if err != nil {
		log.Fatal(err)
	}
	for _, c := range chunks {
		fmt.Printf("chunk %03d: %s (%d bytes, [%d,%d)ms)\n", c.Index, c.Path, c.Bytes, c.StartMS, c.EndMS)
	}
}

func deleteFile(cfg config.Config, serial, name string) {
	withDevice(cfg, serial, func(dev *jensen.Device) error {
		return dev.Delete(context.Background(), name, nil)
	})
	color.Green("deleted %s", name)
}

func format(cfg config.Config, serial string) {
	withDevice(cfg, serial, func(dev *jensen.Device) error {
		return dev.FormatStorage(context.Background(), nil)
	})
	color.Green("formatted device %s", serial)
}

func syncTime(cfg config.Config, serial string) {
	withDevice(cfg, serial, func(dev *jensen.Device) error {
		return dev.SyncTime(context.Background(), nil)
	})
	color.Green("synced clock on device %s", serial)
}

func health(cfg config.Config, serial string) {
	withDevice(cfg, serial, func(dev *jensen.Device) error {
		h := dev.GetHealth()
		printHealth(h)
		return nil
	})
}

func printHealth(h jensen.DeviceHealth) {
	switch h.Status {
	case "healthy":
		color.Green("status: %s", h.Status)
	case "warning":
		color.Yellow("status: %s", h.Status)
	default:
		color.Red("status: %s", h.Status)
	}
	fmt.Printf("commands sent:      %d\n", h.Stats.CommandsSent)
	fmt.Printf("responses received: %d\n", h.Stats.ResponsesReceived)
	fmt.Printf("bytes transferred:  %d\n", h.Stats.BytesTransferred)
	fmt.Printf("uptime:             %s\n", h.Stats.Uptime())
	fmt.Printf("error rate:         %.2f%%\n", h.Stats.ErrorRate()*100)
}

func serve(cfg config.Config, serial string) {
	pool := newPool(cfg)
	defer pool.Close()

	dev, err := pool.Get(context.Background(), serial, false)
	if err != nil {
		log.Fatal(err)
	}

	srv := statusserver.New(dev)
	addr := cfg.StatusServer.Addr
	log.Fatal(srv.ListenAndServe(addr))
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd := strings.ToLower(args[1])

	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "version":
		pversion()
		return
	}

	cfg := loadConfig()

	switch cmd {
	case "conf":
		printconf(cfg)
	case "discover":
		discover(cfg)
	case "list":
		requireArgs(args, 3, "list <serial>")
		list(cfg, args[2])
	case "download":
		requireArgs(args, 5, "download <serial> <name> <out>")
		download(cfg, args[2], args[3], args[4])
	case "chunk":
		requireArgs(args, 5, "chunk <in> <maxbytes> <out-dir>")
		maxBytes, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			log.Fatalf("invalid maxbytes %q: %v", args[3], err)
		}
		chunk(cfg, args[2], maxBytes, args[4])
	case "delete":
		requireArgs(args, 4, "delete <serial> <name>")
		deleteFile(cfg, args[2], args[3])
	case "format":
		requireArgs(args, 3, "format <serial>")
		format(cfg, args[2])
	case "sync-time":
		requireArgs(args, 3, "sync-time <serial>")
		syncTime(cfg, args[2])
	case "health":
		requireArgs(args, 3, "health <serial>")
		health(cfg, args[2])
	case "serve":
		requireArgs(args, 3, "serve <serial>")
		serve(cfg, args[2])
	default:
		log.Fatal("unknown command ", cmd)
	}
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		log.Fatalf("usage: hidockctl %s", usage)
	}
}
