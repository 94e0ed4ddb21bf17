package eyefighter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tinygo.org/x/bluetooth"
)

// fakeAdapter starts scanning only after startDelay, and like the real
// adapter refuses to stop a scan that is not running.
type fakeAdapter struct {
	startDelay time.Duration

	mu       sync.Mutex
	scans    int
	scanning bool
	stop     chan struct{}
}

func (a *fakeAdapter) Scan(func(*bluetooth.Adapter, bluetooth.ScanResult)) error {
	time.Sleep(a.startDelay)
	a.mu.Lock()
	a.scans++
	a.scanning = true
	a.stop = make(chan struct{})
	stop := a.stop
	a.mu.Unlock()

	<-stop
	return nil
}

func (a *fakeAdapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.scanning {
		return errors.New("not scanning")
	}
	a.scanning = false
	close(a.stop)
	return nil
}

func TestRunScanStops(t *testing.T) {
	tests := []struct {
		name       string
		cancel     time.Duration
		startDelay time.Duration
		wantScans  int
	}{
		{name: "canceled before start", cancel: -1, wantScans: 0},
		{name: "canceled while starting", cancel: 10 * time.Millisecond, startDelay: 30 * time.Millisecond, wantScans: 1},
		{name: "canceled while scanning", cancel: 20 * time.Millisecond, wantScans: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAdapter{startDelay: tt.startDelay}
			ctx, cancel := context.WithCancel(context.Background())
			if tt.cancel < 0 {
				cancel()
			} else {
				time.AfterFunc(tt.cancel, cancel)
			}
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- runScan(ctx, a, nil) }()

			select {
			case err := <-done:
				if err != nil {
					t.Fatal(err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("scan never stopped")
			}
			a.mu.Lock()
			defer a.mu.Unlock()
			if a.scans != tt.wantScans {
				t.Errorf("scans = %d, want %d", a.scans, tt.wantScans)
			}
		})
	}
}
