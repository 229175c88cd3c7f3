package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mpu6050-ng/internal/axis"
	"mpu6050-ng/internal/calibration"
	"mpu6050-ng/internal/core"
	"mpu6050-ng/internal/rate"
)

// Controller is the part of the sensor core the API drives.
// Implementations must be safe for concurrent use.
type Controller interface {
	Enable(ch axis.Channel, on bool) error
	SetPollInterval(ch axis.Channel, d time.Duration) error
	SetLPF(lpf rate.LPF) error
	SetCalibration(buf []byte) error
	EnableCalibration(on bool)
	Calibration() (calibration.Offsets, bool)
	CalibrateAccel(ctx context.Context, n int, every time.Duration) (calibration.Offsets, error)
	Suspend() error
	Resume() error
	Snapshot() core.Snapshot
}

const maxBody = 4 << 10

func Handler(ctl Controller, status *Status, stream *Stream, logs *LogBuffer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, status.Snapshot(time.Now().UTC(), ctl.Snapshot()))
	})

	mux.HandleFunc("/api/channels/{ch}/enable", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		ch, ok := channelParam(w, r)
		if !ok {
			return
		}
		var req struct {
			Enable *bool `json:"enable"`
		}
		if !decode(w, r, &req) {
			return
		}
		if req.Enable == nil {
			http.Error(w, "enable is required", http.StatusBadRequest)
			return
		}
		if err := ctl.Enable(ch, *req.Enable); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ctl.Snapshot().Channels[ch])
	})

	mux.HandleFunc("/api/channels/{ch}/poll", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		ch, ok := channelParam(w, r)
		if !ok {
			return
		}
		var req struct {
			IntervalMS *int64 `json:"interval_ms"`
		}
		if !decode(w, r, &req) {
			return
		}
		if req.IntervalMS == nil || *req.IntervalMS <= 0 {
			http.Error(w, "interval_ms must be a positive integer", http.StatusBadRequest)
			return
		}
		ms := *req.IntervalMS
		if limit := rate.MaxPollInterval.Milliseconds(); ms > limit {
			ms = limit
		}
		if err := ctl.SetPollInterval(ch, time.Duration(ms)*time.Millisecond); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ctl.Snapshot().Channels[ch])
	})

	mux.HandleFunc("/api/lpf", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			snap := ctl.Snapshot()
			writeJSON(w, http.StatusOK, map[string]any{"lpf": snap.LPF, "output_rate_hz": snap.OutputRateHz})
		case http.MethodPost:
			var req struct {
				LPF string `json:"lpf"`
			}
			if !decode(w, r, &req) {
				return
			}
			lpf, err := rate.ParseLPF(req.LPF)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := ctl.SetLPF(lpf); err != nil {
				writeError(w, err)
				return
			}
			snap := ctl.Snapshot()
			writeJSON(w, http.StatusOK, map[string]any{"lpf": snap.LPF, "output_rate_hz": snap.OutputRateHz})
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/calibration", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeCalibration(w, ctl)
		case http.MethodPost:
			var req struct {
				Record *string `json:"record"`
				Enable *bool   `json:"enable"`
			}
			if !decode(w, r, &req) {
				return
			}
			if req.Record != nil {
				if err := ctl.SetCalibration([]byte(*req.Record)); err != nil {
					writeError(w, err)
					return
				}
			}
			if req.Enable != nil {
				ctl.EnableCalibration(*req.Enable)
			}
			writeCalibration(w, ctl)
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Runs the flat-and-level accel estimate. The accel channel must be on.
	mux.HandleFunc("/api/calibration/run", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if _, err := ctl.CalibrateAccel(ctx, calibration.DefaultSamples, calibration.SampleEvery); err != nil {
			writeError(w, err)
			return
		}
		writeCalibration(w, ctl)
	})

	mux.HandleFunc("/api/suspend", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		if err := ctl.Suspend(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	mux.HandleFunc("/api/resume", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		if err := ctl.Resume(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	if stream != nil {
		mux.Handle("/api/stream", stream)
	}
	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}
	mux.Handle("/api/about", AboutHandler())

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		snap := ctl.Snapshot()
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>mpu6050-ng</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>mpu6050-ng</h1>")
		_, _ = fmt.Fprintf(w, "<p>See <a href=\"/api/status\">/api/status</a>; samples stream on /api/stream.</p>")
		_, _ = fmt.Fprintf(w, "<pre>placement=%s\npower_on=%t\nlpf=%s\ndivisor=%d\naccel=%s\ngyro=%s</pre>",
			snap.Placement, snap.PowerOn, snap.LPF, snap.Divisor,
			snap.Channels[axis.Accel].State, snap.Channels[axis.Gyro].State,
		)
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func channelParam(w http.ResponseWriter, r *http.Request) (axis.Channel, bool) {
	ch, err := axis.ParseChannel(r.PathValue("ch"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return 0, false
	}
	return ch, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid json: "+strings.TrimPrefix(err.Error(), "json: "), http.StatusBadRequest)
		return false
	}
	return true
}

func writeCalibration(w http.ResponseWriter, ctl Controller) {
	off, on := ctl.Calibration()
	writeJSON(w, http.StatusOK, map[string]any{"record": off.String(), "enable": on})
}

// statusFor maps a core error kind to an HTTP status.
func statusFor(err error) int {
	switch core.KindOf(err) {
	case core.ErrBusy:
		return http.StatusConflict
	case core.ErrFormat, core.ErrConfig:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{
		"error": err.Error(),
		"kind":  string(core.KindOf(err)),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}
