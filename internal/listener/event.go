// SPDX-License-Identifier: MIT
package listener

import "time"

// DetectionEvent is emitted once per engine call that recognizes a keyword.
type DetectionEvent struct {
	KeywordIndex int       `json:"keyword_index"`
	Keyword      string    `json:"keyword"`
	Action       string    `json:"action"`
	SessionID    string    `json:"session_id"`
	FrameSeq     uint64    `json:"frame_seq"`
	Timestamp    time.Time `json:"timestamp"`
}
