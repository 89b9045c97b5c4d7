package fetch

import (
	"context"

	"github.com/gotd/td/tg"
)

// TopicOf reads the forum topic id from the reply header. Messages posted
// directly in a topic point at the topic root with reply_to_msg_id and set
// forum_topic; replies inside a topic carry reply_to_top_id.
func TopicOf(msg *tg.Message) (int, bool) {
	if msg == nil {
		return 0, false
	}

	header, ok := msg.ReplyTo.(*tg.MessageReplyHeader)
	if !ok {
		return 0, false
	}

	if header.ReplyToTopID != 0 {
		return header.ReplyToTopID, true
	}

	if header.ForumTopic && header.ReplyToMsgID != 0 {
		return header.ReplyToMsgID, true
	}

	return 0, false
}

// Topic returns the topic of msg, re-reading the message through the raw
// by-id call when the object at hand carries no reply metadata.
func (f *Fetcher) Topic(ctx context.Context, chatID int64, msg *tg.Message) (int, bool) {
	if topic, ok := TopicOf(msg); ok {
		return topic, true
	}

	if msg == nil {
		return 0, false
	}

	res := f.Raw(ctx, chatID, msg.ID)
	if !res.Found() {
		f.logger.Debug().Err(res.Err).Int64("chat_id", chatID).Int("msg_id", msg.ID).Msg("topic raw lookup failed")
		return 0, false
	}

	return TopicOf(res.Message)
}
