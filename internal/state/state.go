// Package state implements the crawl checkpoint file.  The state is
// saved after every durable page, so an interrupted run resumes from
// where it stopped instead of starting over.
package state

import (
	"encoding/json"
	"io"
	"os"
	"strconv"
	"sync"
)

// Version of the state file format.
const Version = 1.0

// DefFilename is the default state file name inside the output
// directory.
const DefFilename = "guildump.state.json"

// ErrStateVersion is returned when the state file version is newer than
// this build understands.
type ErrStateVersion struct {
	Expected float64
	Actual   float64
}

func (e ErrStateVersion) Error() string {
	return "state version mismatch: expected " + strconv.FormatFloat(e.Expected, 'f', -1, 64) + ", got " + strconv.FormatFloat(e.Actual, 'f', -1, 64)
}

// Cursor is the checkpoint of one paginated endpoint.  BeforeID is the
// oldest message ID of the last durable page.  PageStart is the
// beforeId parameter that page was fetched with:  resuming re-requests
// from PageStart — one full page of overlap — and drops the records at
// or after BeforeID, so a crash between "page fetched" and "side
// effects done" can never open a gap.  Completed is set only after the
// endpoint has been exhausted and every side effect of its pages has
// succeeded.
type Cursor struct {
	BeforeID  string `json:"before_id,omitempty"`
	PageStart string `json:"page_start,omitempty"`
	Completed bool   `json:"completed,omitempty"`
}

// Skip records a channel or thread that was skipped, with the reason.
type Skip struct {
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id,omitempty"`
	Reason    string `json:"reason"`
}

// State holds the resumable state of one export run.
type State struct {
	// Version is the version of the state file.
	Version float64 `json:"version"`
	// TeamID is the server this state belongs to.  Resuming against a
	// different server starts fresh.
	TeamID string `json:"team_id"`
	// Channels maps channel ID to its message-history cursor.
	Channels map[string]Cursor `json:"channels,omitempty"`
	// Threads maps channelID:threadID to the thread's message cursor.
	Threads map[string]Cursor `json:"threads,omitempty"`
	// Skipped lists the channels and threads skipped with their
	// reasons.
	Skipped []Skip `json:"skipped,omitempty"`

	mu sync.RWMutex
}

// New returns a new State for the given team.
func New(teamID string) *State {
	return &State{
		Version:  Version,
		TeamID:   teamID,
		Channels: make(map[string]Cursor),
		Threads:  make(map[string]Cursor),
	}
}

func threadKey(channelID, threadID string) string {
	return channelID + ":" + threadID
}

// SetChannelCursor records the last durable page of the channel:
// pageStart is the beforeId the page was fetched with, beforeID is the
// oldest message ID in it.  It must be called only after the page's
// side effects have succeeded.
func (s *State) SetChannelCursor(channelID, pageStart, beforeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.Channels[channelID]
	c.PageStart = pageStart
	c.BeforeID = beforeID
	s.Channels[channelID] = c
}

// CompleteChannel marks the channel's history as fully crawled.
func (s *State) CompleteChannel(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.Channels[channelID]
	c.Completed = true
	s.Channels[channelID] = c
}

// ChannelCursor returns the channel's cursor.
func (s *State) ChannelCursor(channelID string) Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Channels[channelID]
}

// SetThreadCursor records the last durable page of the thread.
func (s *State) SetThreadCursor(channelID, threadID, pageStart, beforeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.Threads[threadKey(channelID, threadID)]
	c.PageStart = pageStart
	c.BeforeID = beforeID
	s.Threads[threadKey(channelID, threadID)] = c
}

// CompleteThread marks the thread's history as fully crawled.
func (s *State) CompleteThread(channelID, threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.Threads[threadKey(channelID, threadID)]
	c.Completed = true
	s.Threads[threadKey(channelID, threadID)] = c
}

// ThreadCursor returns the thread's cursor.
func (s *State) ThreadCursor(channelID, threadID string) Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Threads[threadKey(channelID, threadID)]
}

// AddSkip records a skipped channel or thread.
func (s *State) AddSkip(channelID, threadID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Skipped = append(s.Skipped, Skip{ChannelID: channelID, ThreadID: threadID, Reason: reason})
}

// Save atomically writes the state to filename:  the data lands in a
// temporary file first and is renamed over the target, so a crash
// mid-write never corrupts the previous checkpoint.
func (s *State) Save(filename string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.CreateTemp("", "guildump-state-*")
	if err != nil {
		return err
	}
	tmpname := f.Name()
	if err := json.NewEncoder(f).Encode(s); err != nil {
		f.Close()
		os.Remove(tmpname)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpname)
		return err
	}
	if err := os.Rename(tmpname, filename); err != nil {
		// cross-device rename fallback
		data, rerr := os.ReadFile(tmpname)
		if rerr != nil {
			os.Remove(tmpname)
			return err
		}
		os.Remove(tmpname)
		return os.WriteFile(filename, data, 0644)
	}
	return nil
}

// Load loads the state from filename.
func Load(filename string) (*State, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return load(f)
}

func load(r io.Reader) (*State, error) {
	var s State
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, err
	}
	if s.Version == 0 {
		s.Version = Version
	}
	if Version < s.Version {
		return nil, &ErrStateVersion{Expected: Version, Actual: s.Version}
	}
	if s.Channels == nil {
		s.Channels = make(map[string]Cursor)
	}
	if s.Threads == nil {
		s.Threads = make(map[string]Cursor)
	}
	return &s, nil
}
