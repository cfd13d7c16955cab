// Command pairctl is a companion-side client for tvlink: it browses for
// pairing services and sends commands to a paired TV.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go2tv.app/tvlink/internal/advertise"
	"go2tv.app/tvlink/internal/buildinfo"
	"go2tv.app/tvlink/internal/companion"
	"go2tv.app/tvlink/internal/domain"
	"go2tv.app/tvlink/internal/lifecycle"
	"go2tv.app/tvlink/internal/protocol"
)

const usage = `usage: pairctl [flags] <command> [args]

commands:
  browse                       list pairing services on the LAN
  status                       print the TV's DISCOVER and heartbeat
  login <token> <user-id> [username]
  logout
  play [url] [title]           resume, or play url
  pause
  stop
  seek <seconds>|<+/-delta>
  queue add <url> [title]
  queue remove <item-id>
  queue clear
`

var errUsage = errors.New("invalid usage")

type options struct {
	addr    string
	timeout time.Duration
	code    string
	service string
	domain  string
	live    bool
}

func main() {
	ctx, stop := lifecycle.NotifyContext(context.Background())
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("pairctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var opts options
	fs.StringVar(&opts.addr, "addr", "127.0.0.1:9999", "pairing server host:port")
	fs.DurationVar(&opts.timeout, "timeout", 5*time.Second, "per-command timeout; browse window for browse")
	fs.StringVar(&opts.code, "code", os.Getenv("TVLINK_PAIRING_CODE"), "pairing code for login and logout")
	fs.StringVar(&opts.service, "service", advertise.DefaultServiceType, "DNS-SD service type")
	fs.StringVar(&opts.domain, "domain", advertise.DefaultDomain, "DNS-SD domain")
	fs.BoolVar(&opts.live, "live", false, "mark the played source as live")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *showVersion {
		fmt.Fprintln(stdout, buildinfo.Version)
		return nil
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	command, params := rest[0], rest[1:]
	switch command {
	case "browse":
		services, err := companion.Browse(ctx, opts.service, opts.domain)
		if err != nil {
			return err
		}
		return writeJSON(stdout, services)
	case "status":
		return withClient(ctx, opts, func(c *companion.Client) error {
			hb, err := c.Heartbeat(ctx)
			if err != nil {
				return err
			}
			return writeJSON(stdout, map[string]any{
				"device":    c.Device(),
				"heartbeat": hb,
			})
		})
	case "login":
		if len(params) < 2 {
			return fmt.Errorf("%w: login needs a token and a user id", errUsage)
		}
		user := domain.User{ID: params[1]}
		if len(params) > 2 {
			user.Username = params[2]
		}
		return withClient(ctx, opts, func(c *companion.Client) error {
			resp, err := c.Login(ctx, params[0], user, opts.code)
			return report(stdout, resp, err)
		})
	case "logout":
		return withClient(ctx, opts, func(c *companion.Client) error {
			resp, err := c.Logout(ctx, opts.code)
			return report(stdout, resp, err)
		})
	}

	payload, err := commandPayload(command, params, opts)
	if err != nil {
		return err
	}
	return withClient(ctx, opts, func(c *companion.Client) error {
		resp, err := c.Request(ctx, payload)
		return report(stdout, resp, err)
	})
}

// commandPayload builds the payload for the playback and queue commands.
func commandPayload(command string, params []string, opts options) (protocol.Payload, error) {
	switch command {
	case "play":
		if len(params) == 0 {
			return protocol.PlayPayload{}, nil
		}
		src := &protocol.PlaySource{URL: params[0], Live: opts.live}
		if len(params) > 1 {
			src.Title = strings.Join(params[1:], " ")
		}
		return protocol.PlayPayload{Source: src}, nil
	case "pause":
		return protocol.PausePayload{}, nil
	case "stop":
		return protocol.StopPayload{}, nil
	case "seek":
		if len(params) != 1 {
			return nil, fmt.Errorf("%w: seek needs one argument", errUsage)
		}
		return parseSeek(params[0])
	case "queue":
		return queuePayload(params, opts.live)
	default:
		return nil, fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

// parseSeek treats a signed value as a delta and an unsigned one as an
// absolute position.
func parseSeek(raw string) (protocol.SeekPayload, error) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return protocol.SeekPayload{}, fmt.Errorf("%w: seek value %q: %v", errUsage, raw, err)
	}
	if strings.HasPrefix(raw, "+") || strings.HasPrefix(raw, "-") {
		return protocol.SeekPayload{Delta: &value}, nil
	}
	return protocol.SeekPayload{Position: &value}, nil
}

func queuePayload(params []string, live bool) (protocol.Payload, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: queue needs add, remove or clear", errUsage)
	}
	switch params[0] {
	case "add":
		if len(params) < 2 {
			return nil, fmt.Errorf("%w: queue add needs a url", errUsage)
		}
		item := protocol.QueueItem{URL: params[1], Live: live}
		if len(params) > 2 {
			item.Title = strings.Join(params[2:], " ")
		}
		return protocol.AddQueueItemPayload{Item: item}, nil
	case "remove":
		if len(params) != 2 {
			return nil, fmt.Errorf("%w: queue remove needs an item id", errUsage)
		}
		return protocol.RemoveQueueItemPayload{ItemID: params[1]}, nil
	case "clear":
		return protocol.ClearQueuePayload{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown queue action %q", errUsage, params[0])
	}
}

func withClient(ctx context.Context, opts options, fn func(*companion.Client) error) error {
	client, err := companion.Dial(ctx, opts.addr, companion.Config{DialTimeout: opts.timeout})
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func report(w io.Writer, resp protocol.ResponsePayload, err error) error {
	if err != nil {
		return err
	}
	if err := writeJSON(w, resp); err != nil {
		return err
	}
	return companion.ResponseError(resp)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
