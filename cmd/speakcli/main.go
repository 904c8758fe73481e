// Package main provides the command-line client for the speech daemon.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/osa030/speakd/internal/api/httpapi"
	"github.com/osa030/speakd/internal/app/playback"
	"github.com/osa030/speakd/internal/app/speech"
	domain "github.com/osa030/speakd/internal/domain/speech"
)

var (
	app    = kingpin.New("speakcli", "Client for the speakd daemon")
	server = app.Flag("server", "Server address").Default("http://127.0.0.1:7865").Envar("SPEAK_SERVER").String()
	token  = app.Flag("token", "Admin token (or set SPEAK_ADMIN_TOKEN env)").Envar("SPEAK_ADMIN_TOKEN").String()

	// speak command
	speakCmd      = app.Command("speak", "Synthesize and queue text")
	speakText     = speakCmd.Arg("text", "Text to speak").Required().String()
	speakVoice    = speakCmd.Flag("voice", "Voice name or ID").Short('V').String()
	speakChannel  = speakCmd.Flag("channel", "Channel name").Short('c').String()
	speakPriority = speakCmd.Flag("priority", "Jump ahead of normal entries").Bool()

	// dialogue command
	dialogueCmd      = app.Command("dialogue", "Synthesize and queue a multi-speaker dialogue")
	dialogueLines    = dialogueCmd.Arg("lines", "Lines as voice:text").Required().Strings()
	dialogueChannel  = dialogueCmd.Flag("channel", "Channel name").Short('c').String()
	dialoguePriority = dialogueCmd.Flag("priority", "Jump ahead of normal entries").Bool()

	// status command
	statusCmd     = app.Command("status", "Show the queue")
	statusChannel = statusCmd.Flag("channel", "Only show this channel").Short('c').String()

	// control commands
	pauseCmd      = app.Command("pause", "Pause playback")
	pauseChannel  = pauseCmd.Flag("channel", "Pause only this channel").Short('c').String()
	resumeCmd     = app.Command("resume", "Resume playback")
	resumeChannel = resumeCmd.Flag("channel", "Resume only this channel").Short('c').String()
	skipCmd       = app.Command("skip", "Skip the current entry")
	seekCmd       = app.Command("seek", "Restart the current entry at an offset")
	seekOffset    = seekCmd.Arg("offset", "Offset in seconds").Required().Float64()
	clearCmd      = app.Command("clear", "Remove queued entries")
	clearChannel  = clearCmd.Flag("channel", "Clear only this channel").Short('c').String()

	// history commands
	historyCmd     = app.Command("history", "List played entries")
	historyLimit   = historyCmd.Flag("limit", "Number of entries").Default("20").Int()
	historyOffset  = historyCmd.Flag("offset", "Entries to skip").Int()
	historyChannel = historyCmd.Flag("channel", "Only show this channel").Short('c').String()
	replayCmd      = app.Command("replay", "Replay an entry from history")
	replayID       = replayCmd.Arg("id", "History entry ID").Required().String()

	// subscribe command
	subscribeCmd = app.Command("subscribe", "Stream live events")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	c := &client{
		baseURL: strings.TrimRight(*server, "/"),
		token:   *token,
		http:    &http.Client{Timeout: 3 * time.Minute},
	}
	ctx := context.Background()

	var err error
	switch command {
	case speakCmd.FullCommand():
		err = speak(ctx, c)
	case dialogueCmd.FullCommand():
		err = dialogue(ctx, c)
	case statusCmd.FullCommand():
		err = status(ctx, c)
	case pauseCmd.FullCommand():
		err = c.post(ctx, "/queue/pause", channelBody(*pauseChannel), nil)
		if err == nil {
			fmt.Println("Paused")
		}
	case resumeCmd.FullCommand():
		err = c.post(ctx, "/queue/resume", channelBody(*resumeChannel), nil)
		if err == nil {
			fmt.Println("Resumed")
		}
	case skipCmd.FullCommand():
		var resp struct {
			Skipped bool `json:"skipped"`
		}
		if err = c.post(ctx, "/queue/skip", nil, &resp); err == nil {
			fmt.Printf("Skipped: %v\n", resp.Skipped)
		}
	case seekCmd.FullCommand():
		err = c.post(ctx, "/queue/seek", map[string]float64{"offset": *seekOffset}, nil)
		if err == nil {
			fmt.Printf("Seeked to %.1fs\n", *seekOffset)
		}
	case clearCmd.FullCommand():
		var resp struct {
			Cleared int `json:"cleared"`
		}
		if err = c.post(ctx, "/queue/clear", channelBody(*clearChannel), &resp); err == nil {
			fmt.Printf("Cleared %d entries\n", resp.Cleared)
		}
	case historyCmd.FullCommand():
		err = history(ctx, c)
	case replayCmd.FullCommand():
		var resp speech.ReplayResult
		if err = c.post(ctx, "/history/replay", map[string]string{"id": *replayID}, &resp); err == nil {
			fmt.Printf("Replaying %s as %s (position %d)\n", resp.Replaying, resp.ID, resp.Position)
		}
	case subscribeCmd.FullCommand():
		err = subscribe(c)
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func speak(ctx context.Context, c *client) error {
	body := map[string]any{"text": *speakText, "priority": *speakPriority}
	if *speakVoice != "" {
		body["voice"] = *speakVoice
	}
	if *speakChannel != "" {
		body["channel"] = *speakChannel
	}

	var resp speech.SpeakResult
	if err := c.post(ctx, "/speak", body, &resp); err != nil {
		return err
	}
	fmt.Printf("Queued %s at position %d [%s] %s\n", resp.ID, resp.Position, resp.Voice, resp.TextPreview)
	return nil
}

func dialogue(ctx context.Context, c *client) error {
	lines, err := parseDialogue(*dialogueLines)
	if err != nil {
		return err
	}
	body := map[string]any{"dialogue": lines, "priority": *dialoguePriority}
	if *dialogueChannel != "" {
		body["channel"] = *dialogueChannel
	}

	var resp speech.DialogueResult
	if err := c.post(ctx, "/speak/dialogue", body, &resp); err != nil {
		return err
	}
	fmt.Printf("Queued %s at position %d [%s]\n", resp.ID, resp.Position, resp.Voices)
	return nil
}

// parseDialogue splits "voice:text" arguments. A line without a colon uses
// the default voice.
func parseDialogue(args []string) ([]speech.DialogueLine, error) {
	lines := make([]speech.DialogueLine, 0, len(args))
	for _, arg := range args {
		voice, text, ok := strings.Cut(arg, ":")
		if !ok {
			voice, text = "", arg
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, fmt.Errorf("empty dialogue line: %q", arg)
		}
		lines = append(lines, speech.DialogueLine{Voice: strings.TrimSpace(voice), Text: text})
	}
	return lines, nil
}

func status(ctx context.Context, c *client) error {
	path := "/queue"
	if *statusChannel != "" {
		path += "?channel=" + *statusChannel
	}

	var st playback.Status
	if err := c.get(ctx, path, &st); err != nil {
		return err
	}

	fmt.Println("\n=== QUEUE STATUS ===")
	fmt.Printf("Playing: %v  Queued: %d  Paused: %v\n", st.Playing, st.Queued, st.Paused)
	if len(st.ChannelPaused) > 0 {
		fmt.Printf("Paused channels: %s\n", strings.Join(st.ChannelPaused, ", "))
	}
	for _, item := range st.Items {
		channel := "-"
		if item.Channel != nil {
			channel = *item.Channel
		}
		fmt.Printf("  %2d %-8s %s [%s] (%s) %s\n", item.Position, item.Status, item.ID, item.Voice, channel, item.Text)
	}
	fmt.Println()
	return nil
}

func history(ctx context.Context, c *client) error {
	path := fmt.Sprintf("/history?limit=%d&offset=%d", *historyLimit, *historyOffset)
	if *historyChannel != "" {
		path += "&channel=" + *historyChannel
	}

	var resp struct {
		Entries []domain.HistoryRecord `json:"entries"`
		Total   int                    `json:"total"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return err
	}

	fmt.Printf("\n=== HISTORY (%d total) ===\n", resp.Total)
	for _, rec := range resp.Entries {
		duration := "?"
		if rec.Duration != nil {
			duration = fmt.Sprintf("%.1fs", *rec.Duration)
		}
		mark := ""
		if rec.Failed {
			mark = " FAILED"
		}
		fmt.Printf("  %s %-14s %-6s [%s]%s %s\n",
			rec.ID, humanize.Time(rec.Timestamp), duration, rec.Voice, mark, rec.Text)
	}
	fmt.Println()
	return nil
}

func subscribe(c *client) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return err
	}
	// The event stream has no deadline
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}

	fmt.Println("Subscribed to events. Press Ctrl+C to exit.")

	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			fmt.Printf("[%s] %s %s\n", time.Now().Format(time.TimeOnly), event, strings.TrimPrefix(line, "data: "))
		}
	}
	if ctx.Err() != nil {
		fmt.Println("\nUnsubscribing...")
		return nil
	}
	return scanner.Err()
}

func channelBody(channel string) any {
	if channel == "" {
		return nil
	}
	return map[string]string{"channel": channel}
}

// client is a minimal JSON client for the daemon.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(httpapi.AdminTokenHeader, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readError(resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &e); err != nil || e.Error == "" {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if e.Code != "" {
		return fmt.Errorf("rejected [%s]: %s", e.Code, e.Error)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, e.Error)
}
