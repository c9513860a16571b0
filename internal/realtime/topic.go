// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

// Package realtime fans task events out to connected clients.
//
// Events reach the service through a bus.Link. A Dispatcher runs one pump per
// topic that has registered sessions; each pump snapshots the Registry and
// hands the payload to every Session's bounded send queue. A session that
// cannot accept a payload is evicted without affecting the others.
package realtime

import (
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// Topic names a bus channel.
type Topic string

// topicPrefix is shared with external publishers and must not change.
const topicPrefix = "task_updates:"

// ProjectTopic returns the topic carrying events for projectID.
func ProjectTopic(projectID int64) Topic {
	return Topic(topicPrefix + strconv.FormatInt(projectID, 10))
}

// ParseProjectTopic extracts the project ID from a project topic.
func ParseProjectTopic(t Topic) (int64, error) {
	rest, ok := strings.CutPrefix(string(t), topicPrefix)
	if !ok || rest == "" {
		return 0, oops.Code("INVALID_TOPIC").With("topic", string(t)).Errorf("not a project topic")
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || strconv.FormatInt(id, 10) != rest {
		return 0, oops.Code("INVALID_TOPIC").With("topic", string(t)).Errorf("invalid project id %q", rest)
	}
	return id, nil
}

// String implements fmt.Stringer.
func (t Topic) String() string {
	return string(t)
}
