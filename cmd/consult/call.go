package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/thereayou/teleconsult/internal/negotiation"
	"github.com/thereayou/teleconsult/internal/relayclient"
	rtc "github.com/thereayou/teleconsult/internal/webrtc"
)

const leaveTimeout = 10 * time.Second

func newCallCmd(a *app) *cobra.Command {
	var (
		room         string
		end          bool
		consultation string
	)

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Join a room and run the call until you quit",
		Long: `Join a consultation room, stream the configured media files to the other
participant and print connection status.

While the call runs type a line and press Enter:
  a  toggle audio
  v  toggle video
  q  leave the call`,
		Example: `  consult call --room 3b9f... --video doctor.ivf --audio doctor.ogg
  consult call --room 3b9f... --video doctor.ivf --end --consultation 6f1c...`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireToken(); err != nil {
				return err
			}
			var consultationID uuid.UUID
			if end {
				id, err := uuid.Parse(consultation)
				if err != nil {
					return fmt.Errorf("--end needs a valid --consultation id")
				}
				consultationID = id
			}
			return a.runCall(cmd.Context(), room, end, consultationID)
		},
	}

	f := cmd.Flags()
	f.StringVar(&room, "room", "", "room token")
	f.BoolVar(&end, "end", false, "end the room after leaving and print the summary")
	f.StringVar(&consultation, "consultation", "", "consultation id, required with --end")
	f.String("video", "", "VP8 video in IVF container")
	f.String("audio", "", "Opus audio in Ogg container")
	f.StringSlice("ice-servers", nil, "STUN/TURN server URLs (default Google STUN)")
	f.String("ice-username", "", "TURN username")
	f.String("ice-credential", "", "TURN credential")
	f.Duration("poll-interval", 0, "relay poll interval (default from server)")
	f.Duration("negotiation-timeout", 30*time.Second, "time to reach connected before rejoining")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

func (a *app) runCall(parent context.Context, room string, end bool, consultationID uuid.UUID) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := a.client()

	spinner, _ := pterm.DefaultSpinner.Start("Joining room...")
	me, err := client.Me(ctx)
	if err != nil {
		spinner.Fail("Cannot load profile")
		return err
	}
	join, err := client.JoinRoom(ctx, room)
	if err != nil {
		spinner.Fail("Cannot join room")
		return fmt.Errorf("join room: %w", err)
	}
	spinner.Success(fmt.Sprintf("Joined as %s (%s), waiting for %s", me.FullName, join.Role, counterpartName(join.Counterpart.Name)))

	poll := a.cfg.PollInterval
	if poll <= 0 {
		poll = time.Duration(join.PollIntervalMS) * time.Millisecond
	}

	subCtx, unsubscribe := context.WithCancel(ctx)
	defer unsubscribe()
	nudges, err := client.Subscribe(subCtx, room)
	if err != nil {
		pterm.Warning.Printfln("Push notifications unavailable, polling every %s: %v", poll, err)
		nudges = nil
	}

	factory, err := rtc.NewPeerFactory(rtc.ICEServers(a.cfg.ICEServers, a.cfg.ICEUsername, a.cfg.ICECredential), a.log)
	if err != nil {
		return err
	}
	source := &rtc.FileSource{
		VideoPath: a.cfg.VideoFile,
		AudioPath: a.cfg.AudioFile,
		StreamID:  me.ID.String(),
		Log:       a.log,
	}

	engine, err := negotiation.New(negotiation.Config{
		SelfID:             me.ID,
		Role:               join.Role,
		Name:               me.FullName,
		PollInterval:       poll,
		NegotiationTimeout: a.cfg.NegotiationTimeout,
		Nudges:             nudges,
		Callbacks: negotiation.Callbacks{
			OnStatus:           printStatus,
			OnRemoteTrack:      consumeTrack,
			OnPeerDisconnected: func(peer uuid.UUID) { pterm.Warning.Printfln("Participant %s left", short(peer)) },
		},
	}, client.Room(room), factory, source, a.log)
	if err != nil {
		return err
	}

	if err := engine.Join(ctx); err != nil {
		if errors.Is(err, negotiation.ErrMediaAcquisitionFailed) {
			return fmt.Errorf("camera or microphone unavailable: %w", err)
		}
		return fmt.Errorf("join call: %w", err)
	}
	pterm.Info.Println("In call. a = audio, v = video, q = leave")

	commands := readCommands(os.Stdin)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-commands:
			if !ok {
				// stdin закрыт, звонок идет до сигнала
				commands = nil
				continue
			}
			switch line {
			case "a":
				on, err := engine.ToggleAudio()
				printToggle("Audio", on, err)
			case "v":
				on, err := engine.ToggleVideo()
				printToggle("Video", on, err)
			case "q":
				break loop
			case "":
			default:
				pterm.Warning.Printfln("Unknown command %q", line)
			}
		}
	}

	leaveCtx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	if err := engine.Leave(leaveCtx); err != nil {
		pterm.Warning.Printfln("Leave not delivered: %v", err)
	} else {
		pterm.Success.Println("Left the call")
	}
	unsubscribe()

	if !end {
		return nil
	}
	summary, err := client.EndRoom(leaveCtx, room, consultationID)
	if err != nil {
		return fmt.Errorf("end room: %w", err)
	}
	return renderSummary(summary)
}

func readCommands(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			out <- strings.ToLower(strings.TrimSpace(sc.Text()))
		}
	}()
	return out
}

func printStatus(s negotiation.Status) {
	who := "You"
	if s.Peer != uuid.Nil {
		who = "Participant " + short(s.Peer)
	}
	if s.Err != nil {
		pterm.Warning.Printfln("%s: %s (%v)", who, s.State, s.Err)
		return
	}
	if s.State == negotiation.StateConnected {
		pterm.Success.Printfln("%s: %s", who, s.State)
		return
	}
	pterm.Info.Printfln("%s: %s", who, s.State)
}

func printToggle(kind string, on bool, err error) {
	if err != nil {
		pterm.Warning.Printfln("%s: %v", kind, err)
		return
	}
	state := "off"
	if on {
		state = "on"
	}
	pterm.Info.Printfln("%s %s", kind, state)
}

// consumeTrack вычитывает входящий трек, иначе pion перестает его принимать
func consumeTrack(peer uuid.UUID, track *webrtc.TrackRemote) {
	pterm.Success.Printfln("Receiving %s from %s (%s)", track.Kind(), short(peer), track.Codec().MimeType)
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	}()
}

func renderSummary(s *relayclient.Summary) error {
	pterm.DefaultSection.Println("Consultation summary")

	ended := "-"
	if s.EndedAt != nil {
		ended = s.EndedAt.Local().Format("02 Jan 15:04")
	}
	if err := pterm.DefaultTable.WithData(pterm.TableData{
		{"Room", s.RoomToken},
		{"Started", s.StartedAt.Local().Format("02 Jan 15:04")},
		{"Ended", ended},
		{"Duration", fmt.Sprintf("%d min", s.DurationMinutes)},
	}).Render(); err != nil {
		return err
	}

	if s.Placeholder {
		pterm.Warning.Println("No notes were recorded for this consultation")
	}
	for _, section := range []struct {
		title string
		items []string
	}{
		{"Key points", s.KeyPoints},
		{"Recommendations", s.Recommendations},
	} {
		if len(section.items) == 0 {
			continue
		}
		pterm.DefaultSection.WithLevel(2).Println(section.title)
		items := make([]pterm.BulletListItem, 0, len(section.items))
		for _, text := range section.items {
			items = append(items, pterm.BulletListItem{Text: text})
		}
		if err := pterm.DefaultBulletList.WithItems(items).Render(); err != nil {
			return err
		}
	}

	for _, w := range s.Warnings {
		pterm.Warning.Println(w)
	}
	return nil
}

func counterpartName(name string) string {
	if name == "" {
		return "the other participant"
	}
	return name
}

func short(id uuid.UUID) string {
	return id.String()[:8]
}
