package bus

import (
	"github.com/xiaot623/gogo/controlplane/internal/domain"
)

// Channel names, as exposed on the push surface.
const (
	ChannelEvents         = "events"
	ChannelEventsForRun   = "eventsForRun"
	ChannelCommandsForRun = "commandsForRun"
)

// globalKey is the single key of the global events topic.
const globalKey = "*"

// Bus routes events and commands between the lifecycle service and any
// number of subscribers. The three topic families are independent.
type Bus struct {
	events         *Topic[domain.Event]
	eventsForRun   *Topic[domain.Event]
	commandsForRun *Topic[domain.Command]
}

// New creates a bus whose subscribers buffer up to buffer messages.
func New(buffer int) *Bus {
	return &Bus{
		events:         NewTopic[domain.Event](ChannelEvents, buffer),
		eventsForRun:   NewTopic[domain.Event](ChannelEventsForRun, buffer),
		commandsForRun: NewTopic[domain.Command](ChannelCommandsForRun, buffer),
	}
}

// PublishEvent delivers e on the global feed and on its run's feed.
func (b *Bus) PublishEvent(e domain.Event) {
	b.events.Publish(globalKey, e)
	b.eventsForRun.Publish(e.RunID, e)
}

// PublishCommand delivers cmd to the subscribers of its run's command feed
// and returns how many received it.
func (b *Bus) PublishCommand(cmd domain.Command) int {
	return b.commandsForRun.Publish(cmd.RunID, cmd)
}

// SubscribeEvents subscribes to every event.
func (b *Bus) SubscribeEvents() *Subscription[domain.Event] {
	return b.events.Subscribe(globalKey)
}

// SubscribeRunEvents subscribes to the events of one run.
func (b *Bus) SubscribeRunEvents(runID string) *Subscription[domain.Event] {
	return b.eventsForRun.Subscribe(runID)
}

// SubscribeRunCommands subscribes to the commands of one run.
func (b *Bus) SubscribeRunCommands(runID string) *Subscription[domain.Command] {
	return b.commandsForRun.Subscribe(runID)
}

// Stats summarizes current subscriptions.
type Stats struct {
	EventSubscribers   int   `json:"eventSubscribers"`
	RunEventFeeds      int   `json:"runEventFeeds"`
	RunCommandFeeds    int   `json:"runCommandFeeds"`
	EvictedSubscribers int64 `json:"evictedSubscribers"`
}

// Stats returns subscription counts across the three topic families.
func (b *Bus) Stats() Stats {
	_, e1 := b.events.Stats()
	_, e2 := b.eventsForRun.Stats()
	_, e3 := b.commandsForRun.Stats()
	return Stats{
		EventSubscribers:   b.events.SubscriberCount(globalKey),
		RunEventFeeds:      b.eventsForRun.Keys(),
		RunCommandFeeds:    b.commandsForRun.Keys(),
		EvictedSubscribers: e1 + e2 + e3,
	}
}
