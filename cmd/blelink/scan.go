package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blelink/internal/device"
	goble "github.com/srg/blelink/internal/device/go-ble"
	"github.com/srg/blelink/pkg/config"
	"github.com/srg/blelink/scanner"
)

// newTransport builds the transport shared by every peripheral (can be overridden in tests)
var newTransport = func(cfg *config.Config, logger *logrus.Logger, notify goble.NotificationHandler) device.Transport {
	return goble.NewTransport(goble.TransportOptions{
		ConnectTimeout:      cfg.ConnectTimeout,
		NotificationHandler: notify,
	}, logger)
}

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Every advertiser is shown with its name, address, RSSI, advertised services
and the lifecycle state it starts in: Disconnected when it accepts
connections, NotConnectable otherwise.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration    time.Duration
	scanFormat      string
	scanServices    []string
	scanAllowList   []string
	scanBlockList   []string
	scanNoDuplicate bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (defaults to scan_timeout from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVar(&scanNoDuplicate, "no-duplicates", true, "Filter duplicate advertisements")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	var serviceUUIDs []string
	if len(scanServices) > 0 {
		var err error
		serviceUUIDs, err = device.ValidateUUID(scanServices...)
		if err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	s, err := scanner.NewScanner(scanner.Options{
		Transport:  newTransport(cfg, logger, nil),
		Peripheral: device.PeripheralOptions{Reconnection: cfg.Reconnection()},
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}
	defer s.Close()

	duration := scanDuration
	if duration <= 0 {
		duration = cfg.ScanTimeout
	}
	opts := &scanner.ScanOptions{
		Duration:        duration,
		DuplicateFilter: scanNoDuplicate,
		ServiceUUIDs:    serviceUUIDs,
		AllowList:       scanAllowList,
		BlockList:       scanBlockList,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", "Scanning", duration, "Processing results")
	progress.Start()
	defer progress.Stop()

	devices, err := s.Scan(ctx, opts, progress.Callback())
	progress.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("scan failed")
		return err
	}

	return displayDevices(cmd.OutOrStdout(), devices, scanFormat)
}

// sortedDevices orders peripherals by name, unnamed ones last, then by address
func sortedDevices(devices map[string]*device.Peripheral) []*device.Peripheral {
	list := make([]*device.Peripheral, 0, len(devices))
	for _, p := range devices {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		ni, nj := list[i].Name(), list[j].Name()
		if (ni == "") != (nj == "") {
			return nj == ""
		}
		if ni != nj {
			return ni < nj
		}
		return list[i].Address() < list[j].Address()
	})
	return list
}

func displayDevices(w io.Writer, devices map[string]*device.Peripheral, format string) error {
	list := sortedDevices(devices)
	if format == "json" {
		return displayDevicesJSON(w, list)
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "No devices discovered")
		return nil
	}
	return displayDevicesTable(w, list)
}

func displayDevicesTable(out io.Writer, devices []*device.Peripheral) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES\tSTATE\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 90))

	for _, p := range devices {
		name := p.Name()
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := strings.Join(p.Snapshot().Services, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		lastSeen := time.Since(p.LastSeen()).Truncate(time.Second)

		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\t%s ago\n",
			name, p.Address(), p.RSSI(), services, phaseColor(p.State().Phase).Sprint(p.State().Phase), lastSeen)
	}

	return w.Flush()
}

// deviceJSON is the scan output record for one peripheral
type deviceJSON struct {
	Name             string            `json:"name,omitempty"`
	Address          string            `json:"address"`
	RSSI             int               `json:"rssi"`
	Connectable      bool              `json:"connectable"`
	State            string            `json:"state"`
	Services         []string          `json:"services,omitempty"`
	ManufacturerData string            `json:"manufacturer_data,omitempty"`
	ServiceData      map[string]string `json:"service_data,omitempty"`
	TxPower          int               `json:"tx_power"`
	LastSeen         time.Time         `json:"last_seen"`
}

func displayDevicesJSON(w io.Writer, devices []*device.Peripheral) error {
	records := make([]deviceJSON, 0, len(devices))
	for _, p := range devices {
		snap := p.Snapshot()
		rec := deviceJSON{
			Name:             p.Name(),
			Address:          p.Address(),
			RSSI:             snap.RSSI,
			Connectable:      snap.Connectable,
			State:            p.State().Phase.String(),
			Services:         snap.Services,
			ManufacturerData: fmt.Sprintf("%x", snap.ManufacturerData),
			TxPower:          snap.TxPower,
			LastSeen:         snap.Timestamp,
		}
		if len(snap.ServiceData) > 0 {
			rec.ServiceData = make(map[string]string, len(snap.ServiceData))
			for uuid, data := range snap.ServiceData {
				rec.ServiceData[uuid] = fmt.Sprintf("%x", data)
			}
		}
		records = append(records, rec)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(records)
}
