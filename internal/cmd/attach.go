package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/shellmux/shellmux/internal/models"
)

var (
	attachServer  string
	attachCommand string
)

var attachCmd = &cobra.Command{
	Use:   "attach [session-id]",
	Short: "Attach the local terminal to a session",
	Long: `Connects to a shellmux server and bridges the local terminal to a
session. Without a session id a new session is created sized to the current
terminal. Press Ctrl-] to detach without destroying the session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAttach,
}

func init() {
	attachCmd.Flags().StringVarP(&attachServer, "server", "s", "127.0.0.1:8787", "server host:port")
	attachCmd.Flags().StringVarP(&attachCommand, "command", "c", "", "command for a new session (default: server-side shell)")
	rootCmd.AddCommand(attachCmd)
}

// detachKey is Ctrl-]: detaches the client, leaving the session running.
const detachKey = 0x1d

// attachClient bridges one websocket connection to the local terminal.
// Websocket writes come from the stdin pump, the heartbeat ticker, and the
// resize watcher, so they are serialized through a mutex.
type attachClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *attachClient) send(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(models.Envelope{Event: event, Payload: raw})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *attachClient) read() (*models.Envelope, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		return &env, nil
	}
}

func runAttach(cmd *cobra.Command, args []string) error {
	u := url.URL{Scheme: "ws", Host: attachServer, Path: "/v1/terminal"}
	header := http.Header{}
	if token := os.Getenv("SHELLMUX_AUTH_TOKEN"); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", attachServer, err)
	}
	defer conn.Close()
	client := &attachClient{conn: conn}

	cols, rows := terminalSize()

	var sessionID string
	if len(args) == 1 {
		sessionID = args[0]
	} else {
		sessionID, err = createSession(client, rows, cols)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "session %s\r\n", sessionID)
	}

	if err := client.send(models.EventConnect, models.ConnectRequest{SessionID: sessionID}); err != nil {
		return err
	}

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }()

	done := make(chan struct{})

	// Local keystrokes become pty-input events.
	go func() {
		defer close(done)
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			if idx := bytes.IndexByte(buf[:n], detachKey); idx >= 0 {
				if idx > 0 {
					_ = client.send(models.EventPTYInput, models.InputRequest{SessionID: sessionID, Input: string(buf[:idx])})
				}
				return
			}
			if err := client.send(models.EventPTYInput, models.InputRequest{SessionID: sessionID, Input: string(buf[:n])}); err != nil {
				return
			}
		}
	}()

	// Keep the session alive while attached, and follow terminal resizes.
	go func() {
		heartbeat := time.NewTicker(30 * time.Second)
		defer heartbeat.Stop()
		winch := make(chan os.Signal, 1)
		notifyResize(winch)
		for {
			select {
			case <-heartbeat.C:
				_ = client.send(models.EventHeartbeat, models.HeartbeatRequest{SessionID: sessionID})
			case <-winch:
				c, r := terminalSize()
				_ = client.send(models.EventResize, models.ResizeRequest{SessionID: sessionID, Rows: r, Cols: c})
			case <-done:
				return
			}
		}
	}()

	// Detaching closes the socket, which unblocks the read loop below.
	go func() {
		<-done
		_ = conn.Close()
	}()

	// Server events drive the local terminal.
	for {
		env, err := client.read()
		if err != nil {
			return nil
		}
		switch env.Event {
		case models.EventPTYOutput:
			var out models.OutputPayload
			if json.Unmarshal(env.Payload, &out) == nil && out.SessionID == sessionID {
				_, _ = os.Stdout.WriteString(out.Output)
			}
		case models.EventSessionClosed:
			var closed models.SessionClosedPayload
			if json.Unmarshal(env.Payload, &closed) == nil && closed.SessionID == sessionID {
				_ = term.Restore(int(os.Stdin.Fd()), oldState)
				fmt.Fprintf(os.Stderr, "\nsession %s closed (exit code %d)\n", sessionID, closed.ExitCode)
				return nil
			}
		case models.EventError:
			var werr models.ErrorPayload
			if json.Unmarshal(env.Payload, &werr) == nil {
				fmt.Fprintf(os.Stderr, "\rserver error: %s (%s)\r\n", werr.Error, werr.Code)
			}
		}
	}
}

// createSession asks the server for a new session sized to the local terminal.
func createSession(client *attachClient, rows, cols uint16) (string, error) {
	req := models.CreateSessionRequest{
		Command: attachCommand,
		Rows:    rows,
		Cols:    cols,
	}
	if err := client.send(models.EventCreateSession, req); err != nil {
		return "", err
	}

	for {
		env, err := client.read()
		if err != nil {
			return "", err
		}
		if env.Event != models.EventCreateSession {
			continue
		}
		var resp models.CreateSessionResponse
		if err := json.Unmarshal(env.Payload, &resp); err != nil {
			return "", err
		}
		if resp.Error != "" {
			return "", fmt.Errorf("create session: %s (%s)", resp.Error, resp.Code)
		}
		return resp.SessionID, nil
	}
}

func terminalSize() (cols, rows uint16) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return 80, 24
	}
	return uint16(w), uint16(h)
}
