// Command sairenos runs the SAIREN-OS edge core over a replayed CSV (without
// -replay it ingests nothing and waits for an interrupt), exposing health
// and metrics over HTTP and emitting advisories as newline-delimited JSON on
// stdout.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/store"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		dataDir        string
		wellID         string
		fieldName      string
		replayCSV      string
		metricsAddr    string
		healthAddr     string
		metricsBackend string
		showVersion    bool
	)
	flag.StringVar(&dataDir, "data-dir", ".", "Directory for lock file, baseline state and ML reports")
	flag.StringVar(&wellID, "well-id", "", "Well identifier stamped on every packet and advisory")
	flag.StringVar(&fieldName, "field", "", "Field name stamped on ML reports")
	flag.StringVar(&replayCSV, "replay", "", "Path to a CSV file of packets to replay (env WITS_HOST/WITS_PORT drive live ingestion in the adapter, not this binary)")
	flag.StringVar(&metricsAddr, "metrics", "", "Expose Prometheus metrics on address (e.g. :9090)")
	flag.StringVar(&healthAddr, "health", "", "Expose /healthz on address (e.g. :9091)")
	flag.StringVar(&metricsBackend, "metrics-backend", "prometheus", "Metrics backend: prometheus|otel|noop")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("sairenos edge core")
		return 0
	}

	if wellID == "" {
		wellID = os.Getenv("WELL_ID")
	}
	if fieldName == "" {
		fieldName = os.Getenv("FIELD_NAME")
	}

	opts := sairen.Options{
		DataDir:        dataDir,
		WellID:         wellID,
		FieldName:      fieldName,
		MetricsBackend: metricsBackend,
		Logger:         slog.Default(),
	}

	eng, err := sairen.New(opts)
	if err != nil {
		var lockHeld store.ErrLockHeld
		if errors.As(err, &lockHeld) {
			log.Printf("lock conflict: %v", lockHeld)
			return 2
		}
		log.Printf("fatal startup error: %v", err)
		return 1
	}
	defer func() {
		if serr := eng.Stop(); serr != nil {
			log.Printf("shutdown: %v", serr)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; draining in-flight packets...")
		cancel()
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	eng.Start(ctx)

	if metricsAddr != "" {
		if h := eng.MetricsHandler(); h != nil {
			mux := http.NewServeMux()
			mux.Handle("/metrics", h)
			go serveUntilDone(ctx, metricsAddr, mux)
		}
	}
	if healthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			snap := eng.HealthSnapshot(r.Context())
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(snap)
		})
		go serveUntilDone(ctx, healthAddr, mux)
	}

	done := make(chan struct{})
	go func() {
		enc := json.NewEncoder(os.Stdout)
		for adv := range eng.Advisories() {
			if err := enc.Encode(adv); err != nil {
				log.Printf("encode advisory: %v", err)
			}
		}
		close(done)
	}()

	if replayCSV != "" {
		if err := replay(eng, replayCSV); err != nil {
			log.Printf("replay: %v", err)
		}
	} else {
		<-ctx.Done()
	}

	cancel()
	<-done
	return 0
}

func serveUntilDone(ctx context.Context, addr string, mux *http.ServeMux) {
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("http server %s: %v", addr, err)
	}
}

// replay reads CSV rows (one packet per row, columns matched by header name
// as listed in parsePacketRow) and submits them at the pace implied by their
// timestamp deltas. A delta under maxGap is slept out; a larger delta is not
// waited for at all, so a replay of historical data does not stall on real
// wall-clock gaps between samples.
func replay(eng *sairen.Engine, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}

	var lastTS float64
	haveLast := false
	const maxGap = 2 * time.Second

	for {
		rec, err := r.Read()
		if err != nil {
			break
		}
		p := parsePacketRow(rec, idx)
		if haveLast {
			gap := time.Duration((p.Timestamp - lastTS) * float64(time.Second))
			if gap > 0 && gap < maxGap {
				time.Sleep(gap)
			}
		}
		lastTS = p.Timestamp
		haveLast = true
		eng.Submit(p)
	}
	return nil
}

func parsePacketRow(rec []string, idx map[string]int) types.Packet {
	f := func(col string) float64 {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return 0
		}
		v, _ := strconv.ParseFloat(rec[i], 64)
		return v
	}
	b := func(col string) bool {
		i, ok := idx[col]
		return ok && i < len(rec) && (rec[i] == "1" || rec[i] == "true")
	}

	p := types.Packet{
		Timestamp:        f("timestamp"),
		BitDepthFt:       f("bit_depth_ft"),
		ROP:              f("rop"),
		WOB:              f("wob"),
		RPM:              f("rpm"),
		Torque:           f("torque"),
		SPP:              f("spp"),
		HookLoad:         f("hook_load"),
		FlowInGPM:        f("flow_in_gpm"),
		FlowOutGPM:       f("flow_out_gpm"),
		PitVolumeBBL:     f("pit_volume_bbl"),
		MudWeightPPG:     f("mud_weight_ppg"),
		ECD:              f("ecd"),
		FractureGradient: f("fracture_gradient"),
		HasFractureGrad:  b("has_fracture_grad"),
		GasUnits:         f("gas_units"),
		BlockVelocityFPM: f("block_velocity_fpm"),
		OnBottom:         b("on_bottom"),
	}
	return p
}
