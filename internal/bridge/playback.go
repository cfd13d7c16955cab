package bridge

import (
	"go2tv.app/tvlink/internal/player"
	"go2tv.app/tvlink/internal/protocol"
)

func (b *Bridge) withPlayer(fn func(Playback)) error {
	if b.player == nil {
		return commandError(CodePlaybackUnavailable, "no player attached", nil)
	}
	fn(b.player)
	return nil
}

// play loads the given source, or resumes the current one. With neither, the
// next queued item is started.
func (b *Bridge) play(p protocol.PlayPayload) error {
	if b.player == nil {
		return commandError(CodePlaybackUnavailable, "no player attached", nil)
	}

	if p.Source != nil {
		opts := player.SourceOptions{StartTime: p.Source.StartTime}
		if p.Source.Title != "" {
			opts.Metadata = &player.Metadata{Title: p.Source.Title}
		}
		b.player.SetSource(player.Source{URL: p.Source.URL, Live: p.Source.Live}, opts)
		b.player.Play()
		return nil
	}

	_, hasSource := b.player.Source()
	if !hasSource || b.player.State().IsFinished {
		if item, ok := b.nextQueued(); ok {
			b.load(item)
		} else if !hasSource {
			return commandError(CodeQueueEmpty, "nothing to play", nil)
		}
	}
	b.player.Play()
	return nil
}

func (b *Bridge) seek(p protocol.SeekPayload) error {
	return b.withPlayer(func(pl Playback) {
		if p.Position != nil {
			pl.Seek(*p.Position)
			return
		}
		pl.Step(*p.Delta)
	})
}

func (b *Bridge) addQueueItem(p protocol.AddQueueItemPayload) error {
	if b.queue == nil {
		return commandError(CodePlaybackUnavailable, "no queue attached", nil)
	}
	b.queue.Add(player.Item{ID: p.Item.ID, URL: p.Item.URL, Title: p.Item.Title, Live: p.Item.Live})
	return nil
}

func (b *Bridge) removeQueueItem(p protocol.RemoveQueueItemPayload) error {
	if b.queue == nil {
		return commandError(CodePlaybackUnavailable, "no queue attached", nil)
	}
	if !b.queue.Remove(p.ItemID) {
		return commandError(CodeItemNotFound, "no queued item "+p.ItemID, nil)
	}
	return nil
}

func (b *Bridge) clearQueue() error {
	if b.queue == nil {
		return commandError(CodePlaybackUnavailable, "no queue attached", nil)
	}
	b.queue.Clear()
	return nil
}

func (b *Bridge) nextQueued() (player.Item, bool) {
	if b.queue == nil {
		return player.Item{}, false
	}
	return b.queue.Next()
}

func (b *Bridge) load(item player.Item) {
	opts := player.SourceOptions{ExtraData: map[string]any{"queueItemId": item.ID}}
	if item.Title != "" {
		opts.Metadata = &player.Metadata{Title: item.Title}
	}
	b.player.SetSource(player.Source{URL: item.URL, Live: item.Live}, opts)
}
