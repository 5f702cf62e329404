package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blelink/internal/device"
	goble "github.com/srg/blelink/internal/device/go-ble"
	"github.com/srg/blelink/internal/groutine"
	"github.com/srg/blelink/pkg/config"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect <device-address>",
	Short: "Connect to a BLE device and run GATT operations",
	Long: `Connect to a BLE device, optionally discover its services and run
reads, writes and notification toggles against it.

Operations are queued on the device and executed one at a time, in the order
they are given. Every lifecycle state change is printed as it happens.

Characteristics are given as <service>/<char> or as a bare <char> UUID when
it is unique on the device. Descriptors append /<desc>.`,
	Example: `  blelink connect AA:BB:CC:DD:EE:FF --discover
  blelink connect AA:BB:CC:DD:EE:FF --read 2a19 --read 180a/2a29
  blelink connect AA:BB:CC:DD:EE:FF --write 180d/2a39=01 --notify 2a37 --follow
  blelink connect AA:BB:CC:DD:EE:FF --follow --reconnect limited:3`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var (
	connectDiscover   bool
	connectReads      []string
	connectReadDescs  []string
	connectWrites     []string
	connectNoResponse bool
	connectNotify     []string
	connectReconnect  string
	connectTimeout    time.Duration
	connectFollow     bool
	connectDuration   time.Duration
)

func init() {
	connectCmd.Flags().BoolVar(&connectDiscover, "discover", false, "Discover and list services (implied by any operation)")
	connectCmd.Flags().StringArrayVar(&connectReads, "read", nil, "Read a characteristic: [<service>/]<char> (repeatable)")
	connectCmd.Flags().StringArrayVar(&connectReadDescs, "read-desc", nil, "Read a descriptor: [<service>/]<char>/<desc> (repeatable)")
	connectCmd.Flags().StringArrayVar(&connectWrites, "write", nil, "Write a characteristic: [<service>/]<char>=<hex> (repeatable)")
	connectCmd.Flags().BoolVar(&connectNoResponse, "without-response", false, "Use write without response")
	connectCmd.Flags().StringArrayVar(&connectNotify, "notify", nil, "Enable notifications: [<service>/]<char> (repeatable)")
	connectCmd.Flags().StringVar(&connectReconnect, "reconnect", "", "Reconnection policy: never, always or limited:<n> (defaults to config)")
	connectCmd.Flags().DurationVar(&connectTimeout, "timeout", 0, "Per-operation timeout (defaults to action_timeout from config)")
	connectCmd.Flags().BoolVar(&connectFollow, "follow", false, "Stay connected and keep printing state changes and notifications")
	connectCmd.Flags().DurationVar(&connectDuration, "duration", 0, "How long to follow (0 until Ctrl+C)")
}

// operation is one queued GATT request with how to print its result
type operation struct {
	label  string
	action *device.Action
	value  bool
}

// describe renders a read value, decoding well-known descriptors
func (op operation) describe(value []byte) string {
	text := formatValue(value)
	if op.action.Kind() != device.ReadDescriptorAction {
		return text
	}
	decoded, ok, err := device.DecodeDescriptor(op.action.Descriptor().UUID, value)
	switch {
	case err != nil:
		return fmt.Sprintf("%s (%v)", text, err)
	case ok:
		return fmt.Sprintf("%s (%s)", text, decoded)
	default:
		return text
	}
}

func runConnect(cmd *cobra.Command, args []string) error {
	address := args[0]

	writes := make([]writeSpec, 0, len(connectWrites))
	for _, w := range connectWrites {
		spec, err := parseWriteSpec(w)
		if err != nil {
			return err
		}
		writes = append(writes, spec)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	policy := cfg.Reconnection()
	if connectReconnect != "" {
		if policy, err = device.ParseReconnectionSettings(connectReconnect); err != nil {
			return err
		}
	}
	actionTimeout := connectTimeout
	if actionTimeout <= 0 {
		actionTimeout = cfg.ActionTimeout
	}

	cmd.SilenceUsage = true

	out := newPrinter(cmd.OutOrStdout())
	transport := newTransport(cfg, logger, notificationPrinter(out))

	p := device.NewPeripheralWithAddress(address, transport, device.PeripheralOptions{Reconnection: policy}, logger)
	defer p.Close()

	states, stopWatch := p.Watch(cfg.StateBuffer)
	watchDone := make(chan struct{})
	groutine.Go(cmd.Context(), "state-printer-"+address, func(_ context.Context) {
		defer close(watchDone)
		for st := range states {
			out.State(st)
		}
	})
	defer func() {
		stopWatch()
		<-watchDone
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := &connectSession{p: p, cfg: cfg, out: out, logger: logger, actionTimeout: actionTimeout}
	runErr := session.run(ctx, writes)

	// Disconnect even after Ctrl+C, bounded by the connect timeout
	if derr := session.disconnect(context.WithoutCancel(ctx)); derr != nil && runErr == nil {
		runErr = derr
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// notificationPrinter prints every notification payload as hex
func notificationPrinter(out *printer) goble.NotificationHandler {
	return func(_ string, ref device.CharacteristicRef, data []byte) {
		out.Printf("%s %s %s\n", labelColor.Sprint("notification:"), ref, formatValue(data))
	}
}

// connectSession drives one peripheral through connect, operations and follow
type connectSession struct {
	p             *device.Peripheral
	cfg           *config.Config
	out           *printer
	logger        *logrus.Logger
	actionTimeout time.Duration
}

func (s *connectSession) run(ctx context.Context, writes []writeSpec) error {
	if err := s.connect(ctx); err != nil {
		return err
	}

	wantsOps := len(connectReads)+len(connectReadDescs)+len(writes)+len(connectNotify) > 0
	if connectDiscover || wantsOps {
		services, err := s.discover(ctx)
		if err != nil {
			return err
		}
		if connectDiscover {
			s.printServices(services)
		}
		if wantsOps {
			ops, err := buildOperations(services, writes)
			if err != nil {
				return err
			}
			if err := s.perform(ctx, ops); err != nil {
				return err
			}
		}
	}

	if connectFollow {
		return s.follow(ctx)
	}
	return nil
}

// gaveUp matches a link-less state the manager will not leave on its own
func gaveUp(st device.State) bool {
	switch st.Phase {
	case device.NotConnectable:
		return true
	case device.Disconnected:
		return st.Err != nil && !device.ShouldReconnect(st.Policy, st.Attempts)
	default:
		return false
	}
}

func (s *connectSession) connect(ctx context.Context) error {
	if _, err := s.p.Connect(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	st, err := s.p.WaitFor(ctx, func(st device.State) bool { return st.Phase.IsConnected() || gaveUp(st) })
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("connect to %s: %w", s.p.Address(), device.ErrTimeout)
		}
		return err
	}
	if gaveUp(st) {
		if st.Err != nil {
			return st.Err
		}
		return fmt.Errorf("connect to %s: %w", s.p.Address(), device.ErrNotReady)
	}
	return nil
}

func (s *connectSession) discover(ctx context.Context) (*device.Services, error) {
	if _, err := s.p.DiscoverServices(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	st, err := s.p.WaitFor(ctx, func(st device.State) bool {
		return st.Phase == device.ConnectedIdle || st.Phase == device.ConnectedHandlingAction ||
			(st.Phase == device.ConnectedNoServices && st.Err != nil) || !st.Phase.IsConnected()
	})
	if err != nil {
		return nil, err
	}
	switch {
	case st.Services != nil:
		return st.Services, nil
	case st.Err != nil:
		return nil, st.Err
	default:
		return nil, ErrConnectionLost
	}
}

func (s *connectSession) printServices(services *device.Services) {
	for _, svc := range services.List() {
		s.out.Printf("%s %s\n", labelColor.Sprint("service:"), svc.UUID)
		for _, c := range svc.Characteristics {
			s.out.Printf("  %s\n", c.UUID)
		}
	}
}

// buildOperations resolves every requested operation against services in
// flag order: reads, descriptor reads, writes, then notification toggles.
func buildOperations(services *device.Services, writes []writeSpec) ([]operation, error) {
	var ops []operation
	for _, target := range connectReads {
		ref, err := resolveCharacteristic(services, target)
		if err != nil {
			return nil, err
		}
		ops = append(ops, operation{label: "read " + ref.String(), action: device.NewReadCharacteristic(ref), value: true})
	}
	for _, target := range connectReadDescs {
		ref, err := resolveDescriptor(services, target)
		if err != nil {
			return nil, err
		}
		ops = append(ops, operation{label: "read " + ref.String(), action: device.NewReadDescriptor(ref), value: true})
	}
	for _, w := range writes {
		ref, err := resolveCharacteristic(services, w.target)
		if err != nil {
			return nil, err
		}
		ops = append(ops, operation{label: "write " + ref.String(), action: device.NewWriteCharacteristic(ref, w.data, !connectNoResponse)})
	}
	for _, target := range connectNotify {
		ref, err := resolveCharacteristic(services, target)
		if err != nil {
			return nil, err
		}
		ops = append(ops, operation{label: "notify " + ref.String(), action: device.NewSetNotification(ref, true)})
	}
	return ops, nil
}

// perform queues every operation up front and then awaits them in order
func (s *connectSession) perform(ctx context.Context, ops []operation) error {
	completions := make([]*device.Completion, 0, len(ops))
	for _, op := range ops {
		c, err := s.p.Perform(op.action)
		if err != nil {
			return fmt.Errorf("%s: %w", op.label, err)
		}
		completions = append(completions, c)
	}

	var failed []string
	for i, op := range ops {
		waitCtx, cancel := context.WithTimeout(ctx, s.actionTimeout)
		value, err := completions[i].Wait(waitCtx)
		cancel()

		switch {
		case errors.Is(err, context.Canceled):
			return err
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("%s: %w", op.label, device.ErrTimeout)
		case err != nil:
			s.out.Printf("%s %s\n", errorColor.Sprint(op.label+":"), err)
			failed = append(failed, op.label)
		case op.value:
			s.out.Printf("%s %s\n", labelColor.Sprint(op.label+":"), op.describe(value))
		default:
			s.out.Printf("%s ok\n", labelColor.Sprint(op.label+":"))
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d operations failed: %s", len(failed), len(ops), strings.Join(failed, ", "))
	}
	return nil
}

// formatValue renders data as hex, followed by quoted text when every byte is printable ASCII
func formatValue(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	for _, b := range data {
		if b < 0x20 || b > 0x7e {
			return fmt.Sprintf("%x", data)
		}
	}
	return fmt.Sprintf("%x %q", data, data)
}

// follow waits until ctx is done, --duration elapses or the link is lost for good
func (s *connectSession) follow(ctx context.Context) error {
	if connectDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, connectDuration)
		defer cancel()
	}

	st, err := s.p.WaitFor(ctx, gaveUp)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return nil
	case err != nil:
		return err
	default:
		s.logger.WithField("state", st.String()).Debug("link lost while following")
		return fmt.Errorf("%w: %v", ErrConnectionLost, st.Err)
	}
}

func (s *connectSession) disconnect(ctx context.Context) error {
	if st := s.p.State(); !st.Phase.IsConnected() && st.Phase != device.Connecting {
		return nil
	}
	if _, err := s.p.Disconnect(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	_, err := s.p.WaitFor(ctx, func(st device.State) bool {
		return st.Phase == device.Disconnected || st.Phase == device.NotConnectable
	})
	return err
}
