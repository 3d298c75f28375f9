// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// spinnerInterval is the time between frames.
var spinnerInterval = 80 * time.Millisecond

// Spinner animates a one-line progress message. Only rich printers draw
// it; in plain and machine modes every method is a no-op so scripted
// output stays clean.
type Spinner struct {
	p       *Printer
	mu      sync.Mutex
	message string
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// Spinner returns a stopped spinner bound to p.
func (p *Printer) Spinner(message string) *Spinner {
	return &Spinner{p: p, message: message}
}

// Start begins drawing. Calling Start on a running spinner does nothing.
func (s *Spinner) Start() {
	if s.p.mode != ModeRich {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(spinnerInterval)
		defer ticker.Stop()

		for frame := 0; ; frame = (frame + 1) % len(spinnerFrames) {
			s.mu.Lock()
			msg := s.message
			s.mu.Unlock()
			fmt.Fprintf(s.p.w, "\r%s %s", Styles.Title.Render(spinnerFrames[frame]), msg)

			select {
			case <-stop:
				fmt.Fprint(s.p.w, "\r\033[K")
				return
			case <-ticker.C:
			}
		}
	}(s.stop, s.done)
}

// Update replaces the message shown on the next frame.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop clears the spinner line and waits for the drawing goroutine.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
}
