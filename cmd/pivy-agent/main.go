// Command pivy-agent is an SSH agent that signs with keys held on PIV
// smartcards, never loading private key material into the host's memory.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	osexec "os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/agent"

	pivagent "github.com/amarbel-llc/pivy/agent"
	"github.com/amarbel-llc/pivy/bootstrap"
	"github.com/amarbel-llc/pivy/guid"
	"github.com/amarbel-llc/pivy/pcsc"
	"github.com/amarbel-llc/pivy/piv"
	"github.com/amarbel-llc/pivy/prober"
)

type cliFlags struct {
	guid             string
	allCards         bool
	socket           string
	slotSpec         string
	kill             bool
	debug            int
	foregroundDebug  bool
	info             bool
	shFormat         bool
	cshFormat        bool
}

func main() {
	flags := &cliFlags{}

	cmd := &cobra.Command{
		Use:   "pivy-agent [command]",
		Short: "SSH agent backed by PIV smartcards",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.guid, "guid", "g", "", "GUID of the PIV card to use")
	f.BoolVarP(&flags.allCards, "all-cards", "A", false, "expose keys from every attached PIV card")
	f.StringVarP(&flags.socket, "socket", "a", "", "socket path for the agent")
	f.StringVarP(&flags.slotSpec, "slots", "S", "", "comma-separated slot IDs to expose, e.g. 9a,9e")
	f.BoolVarP(&flags.kill, "kill", "k", false, "kill a running agent (reads SSH_AGENT_PID)")
	f.CountVarP(&flags.debug, "debug", "d", "increase log verbosity (repeatable)")
	f.BoolVarP(&flags.foregroundDebug, "foreground-debug", "D", false, "run in the foreground at debug verbosity")
	f.BoolVarP(&flags.info, "info", "i", false, "print discovered keys and exit")
	f.BoolVarP(&flags.shFormat, "sh", "s", false, "emit Bourne shell export commands")
	f.BoolVarP(&flags.cshFormat, "csh", "c", false, "emit C shell export commands")
	cmd.Flags().SetInterspersed(false)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pivy-agent:", err)
		os.Exit(1)
	}
}

func run(flags *cliFlags, command []string) error {
	if flags.kill {
		return killAgent()
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(flags)}))

	ctx, err := pcsc.EstablishContext()
	if err != nil {
		return fmt.Errorf("pivy-agent: %w", err)
	}
	defer ctx.Release()

	cfg := bootstrap.Config{
		GUIDFilter:   flags.guid,
		AllCards:     flags.allCards,
		AllowedSlots: parseSlotSpec(flags.slotSpec),
	}

	result, err := bootstrap.Discover(contextReader{ctx}, cfg, log)
	if err != nil {
		return fmt.Errorf("pivy-agent: discovering PIV cards: %w", err)
	}

	if flags.info {
		printInfo(result.Keys)
		return nil
	}

	log.Info("loaded keys from PIV tokens", "count", len(result.Keys))

	socketPath := flags.socket
	if socketPath == "" {
		socketPath = defaultSocketPath()
	}

	printShellExports(flags, socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("pivy-agent: listening on %s: %w", socketPath, err)
	}

	pin := &pivagent.PINCell{}
	sshAgent := pivagent.New(result.Keys, pin, func(reader string) (piv.Transport, error) {
		return ctx.Connect(reader)
	})

	if result.HasPrimary {
		probeCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		p := prober.New(func() bool {
			return cardPresent(contextReader{ctx}, result.PrimaryGUID)
		}, pin, nil, log)
		go p.Run(probeCtx)
	}

	if len(command) > 0 {
		return runWithCommand(listener, sshAgent, socketPath, command)
	}

	cleanupOnSignal(socketPath)
	serve(listener, sshAgent, log)
	return nil
}

func logLevel(flags *cliFlags) slog.Level {
	switch {
	case flags.debug >= 2:
		return slog.LevelDebug - 4 // trace-ish, more verbose than debug
	case flags.debug == 1, flags.foregroundDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// parseSlotSpec parses a comma-separated list of hex slot IDs. Entries
// that fail to parse are silently dropped rather than rejected, since a
// typo here should degrade to "expose fewer slots", not refuse to start.
func parseSlotSpec(spec string) []byte {
	if spec == "" {
		return nil
	}
	var slots []byte
	for _, part := range strings.Split(spec, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(part), 16, 8)
		if err != nil {
			continue
		}
		slots = append(slots, byte(n))
	}
	return slots
}

func defaultSocketPath() string {
	dir := filepath.Join(os.TempDir(), fmt.Sprintf("pivy-agent.%d", os.Getpid()))
	os.MkdirAll(dir, 0700)
	return filepath.Join(dir, "agent.sock")
}

func printShellExports(flags *cliFlags, socketPath string) {
	useCsh := flags.cshFormat || (!flags.shFormat && strings.HasSuffix(os.Getenv("SHELL"), "csh"))
	pid := os.Getpid()
	if useCsh {
		fmt.Printf("setenv SSH_AUTH_SOCK %s;\n", socketPath)
		fmt.Printf("setenv SSH_AGENT_PID %d;\n", pid)
		fmt.Printf("echo Agent pid %d;\n", pid)
	} else {
		fmt.Printf("SSH_AUTH_SOCK=%s; export SSH_AUTH_SOCK;\n", socketPath)
		fmt.Printf("SSH_AGENT_PID=%d; export SSH_AGENT_PID;\n", pid)
		fmt.Printf("echo Agent pid %d;\n", pid)
	}
}

func printInfo(keys []pivagent.CachedKey) {
	if len(keys) == 0 {
		fmt.Fprintln(os.Stderr, "no PIV keys found")
		return
	}
	for _, k := range keys {
		fmt.Printf("%02X %s %s\n", k.Slot, k.Algorithm, formatAuthorizedKey(k))
	}
}

func formatAuthorizedKey(k pivagent.CachedKey) string {
	authKey := &agent.Key{Format: k.PublicKey.Type(), Blob: k.Blob(), Comment: k.Comment}
	return authKey.String()
}

func serve(listener net.Listener, a agent.ExtendedAgent, log *slog.Logger) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Info("listener closed", "error", err)
			return
		}
		go func() {
			if err := agent.ServeAgent(a, conn); err != nil {
				log.Debug("agent connection ended", "error", err)
			}
		}()
	}
}

func runWithCommand(listener net.Listener, a agent.ExtendedAgent, socketPath string, command []string) error {
	log := slog.Default()
	go serve(listener, a, log)

	cmd := osexec.Command(command[0], command[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		"SSH_AUTH_SOCK="+socketPath,
		fmt.Sprintf("SSH_AGENT_PID=%d", os.Getpid()),
	)

	runErr := cmd.Run()
	os.Remove(socketPath)

	var exitErr *osexec.ExitError
	if errors.As(runErr, &exitErr) {
		os.Exit(exitErr.ExitCode())
	}
	return runErr
}

func cleanupOnSignal(socketPath string) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		os.Remove(socketPath)
		os.Exit(0)
	}()
}

func killAgent() error {
	pidStr := os.Getenv("SSH_AGENT_PID")
	if pidStr == "" {
		return fmt.Errorf("SSH_AGENT_PID not set")
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return fmt.Errorf("invalid SSH_AGENT_PID: %w", err)
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("killing agent pid %d: %w", pid, err)
	}

	fmt.Println("unset SSH_AUTH_SOCK;")
	fmt.Println("unset SSH_AGENT_PID;")
	fmt.Printf("echo Agent pid %d killed;\n", pid)
	return nil
}

// contextReader adapts *pcsc.Context to the bootstrap.Reader interface.
type contextReader struct {
	ctx *pcsc.Context
}

func (r contextReader) ListReaders() ([]string, error) { return r.ctx.ListReaders() }
func (r contextReader) Connect(name string) (piv.Transport, error) {
	return r.ctx.Connect(name)
}

// cardPresent enumerates readers looking for a card whose GUID matches
// target, mirroring the original agent's probe loop: liveness isn't
// "is the card in the reader we first saw it in", it's "is the card
// present in any reader at all".
func cardPresent(reader contextReader, target guid.GUID) bool {
	names, err := reader.ListReaders()
	if err != nil {
		return false
	}

	for _, name := range names {
		transport, err := reader.Connect(name)
		if err != nil {
			continue
		}

		session, err := piv.Connect(transport)
		if err != nil {
			transport.Close()
			continue
		}

		found := session.GUID() == target
		session.Close()
		if found {
			return true
		}
	}

	return false
}
