package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/sheerbytes/peerlink/internal/config"
	"github.com/sheerbytes/peerlink/internal/filesrv"
	"github.com/sheerbytes/peerlink/internal/logging"
	"github.com/sheerbytes/peerlink/internal/netinfo"
	"github.com/sheerbytes/peerlink/internal/session"
	"github.com/sheerbytes/peerlink/internal/termio"
	"github.com/sheerbytes/peerlink/internal/transport"
)

type mode int

const (
	modeInteractive mode = iota
	modeHost
	modeConnect
)

const publicIPTimeout = 3 * time.Second

type peer struct {
	cfg     config.PeerConfig
	logger  *slog.Logger
	console *termio.Console
	in      *bufio.Reader
	sess    *session.Session
}

func runPeer(m mode, cfg config.PeerConfig) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := &peer{
		cfg:     cfg,
		logger:  logging.New("peerlink", cfg.LogLevel, termio.Stderr()),
		console: termio.NewConsole(termio.Stdout()),
		in:      bufio.NewReader(os.Stdin),
	}
	if err := p.setup(ctx); err != nil {
		fmt.Fprintf(termio.Stderr(), "%v\n", err)
		return 1
	}
	defer p.sess.Close()

	var err error
	switch m {
	case modeHost:
		err = p.host(ctx, false)
	case modeConnect:
		err = p.connectArgs(ctx)
	default:
		err = p.interactive(ctx)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 130
		}
		// Handshake outcomes have already been shown to the operator.
		if !errors.Is(err, session.ErrRejected) && !errors.Is(err, session.ErrNoReply) {
			p.logger.Error("session ended with error", "error", err)
			fmt.Fprintf(termio.Stderr(), "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func (p *peer) setup(ctx context.Context) error {
	localIP := p.cfg.Bind
	if localIP == "" {
		localIP = netinfo.LocalIP()
	}
	dialer, err := transport.NewDialer(p.cfg.FileTransport, p.logger)
	if err != nil {
		return err
	}
	var progress session.ProgressFunc
	if isTTY(termio.StderrFile()) {
		progress = newProgressBar(termio.Stderr())
	}
	p.sess, err = session.New(session.Config{
		LocalAddr:   localIP,
		ChatPort:    p.cfg.ChatPort,
		FilePort:    p.cfg.FilePort,
		SecretBytes: p.cfg.SecretBytes,
		ChunkSize:   p.cfg.ChunkSize,
		Dialer:      dialer,
		Out:         p.console,
		Logger:      p.logger,
		Progress:    progress,
	})
	if err != nil {
		return err
	}

	// A failed file listener leaves chat usable; only receiving is lost.
	ln, err := transport.Listen(ctx, p.cfg.FileTransport, net.JoinHostPort("", strconv.Itoa(p.cfg.FilePort)), p.logger)
	if err != nil {
		p.console.Printf("File server error: %v\n", err)
	} else {
		p.sess.ServeFiles(ctx, ln, p.cfg.RecvDir, filesrv.Options{})
	}

	p.console.Printf("Your local IP: %s\n", localIP)
	pctx, cancel := context.WithTimeout(ctx, publicIPTimeout)
	defer cancel()
	publicIP, err := netinfo.PublicIP(pctx, p.cfg.StunServers)
	if err != nil {
		p.logger.Warn("public IP lookup failed", "error", err)
		publicIP = "Unknown"
	}
	p.console.Printf("Your public IP: %s (if behind NAT, this may not be reachable directly)\n", publicIP)
	return nil
}

func (p *peer) interactive(ctx context.Context) error {
	choice, err := p.ask("Host (h) or Connect (c)? ")
	if err != nil {
		return err
	}
	switch strings.ToLower(choice) {
	case "h":
		return p.host(ctx, true)
	case "c":
		host, err := p.ask("Enter remote IP or hostname: ")
		if err != nil {
			return err
		}
		portText, err := p.ask(fmt.Sprintf("Enter remote port (default %d): ", p.cfg.ChatPort))
		if err != nil {
			return err
		}
		port := p.cfg.ChatPort
		if portText != "" {
			if port, err = strconv.Atoi(portText); err != nil {
				return fmt.Errorf("invalid port %q", portText)
			}
		}
		secret, err := p.askSecret("Enter remote password: ")
		if err != nil {
			return err
		}
		return p.connect(ctx, net.JoinHostPort(host, strconv.Itoa(port)), secret)
	default:
		p.console.Println("Invalid choice")
		return nil
	}
}

func (p *peer) host(ctx context.Context, interactive bool) error {
	tunnel := p.cfg.Tunnel
	if interactive && !tunnel {
		answer, err := p.ask("Use serveo.net tunnel for easy internet access? (y/n): ")
		if err != nil {
			return err
		}
		tunnel = strings.EqualFold(answer, "y")
	}
	if tunnel {
		p.console.Printf("\n%s\n", strings.Repeat("=", 60))
		p.console.Println("Run this command in another terminal (SSH must be installed):")
		p.console.Println(netinfo.TunnelCommand(p.cfg.ChatPort, p.cfg.FilePort))
		p.console.Println("\nAfter running it, you'll get a hostname like 'abc.serveo.net'.")
		p.console.Println("Give that hostname to the remote peer.")
		if interactive {
			if _, err := p.ask("Press Enter after the tunnel is established..."); err != nil {
				return err
			}
		}
	}

	ln, err := p.sess.ListenChat(ctx)
	if err != nil {
		p.console.Printf("Host error: %v\n", err)
		return err
	}
	p.console.Printf("Hosting on %s\n", p.sess.ChatAddr())
	p.console.Printf("Password: %s\n", p.sess.Secret())
	p.console.Println("Waiting for connection...")
	if err := p.sess.Host(ctx, ln); err != nil {
		return err
	}
	return p.sess.Chat(ctx, p.in)
}

func (p *peer) connectArgs(ctx context.Context) error {
	if len(p.cfg.Args) != 1 {
		printUsage()
		return errors.New("connect needs exactly one address")
	}
	addr := p.cfg.Args[0]
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(p.cfg.ChatPort))
	}
	secret, err := p.askSecret("Enter remote password: ")
	if err != nil {
		return err
	}
	return p.connect(ctx, addr, secret)
}

func (p *peer) connect(ctx context.Context, addr, secret string) error {
	if err := p.sess.Connect(ctx, addr, secret); err != nil {
		return err
	}
	return p.sess.Chat(ctx, p.in)
}

func (p *peer) ask(prompt string) (string, error) {
	p.console.Printf("%s", prompt)
	termio.Flush()
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// askSecret reads without echo when stdin is a terminal.
func (p *peer) askSecret(prompt string) (string, error) {
	if !isTTY(os.Stdin) || p.in.Buffered() > 0 {
		return p.ask(prompt)
	}
	p.console.Printf("%s", prompt)
	termio.Flush()
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	p.console.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
