package tgutil

import "github.com/gotd/td/tg"

// SentMessages extracts the messages created by a send, forward or edit call.
func SentMessages(upd tg.UpdatesClass) []*tg.Message {
	var list []tg.UpdateClass

	switch u := upd.(type) {
	case *tg.Updates:
		list = u.Updates
	case *tg.UpdatesCombined:
		list = u.Updates
	case *tg.UpdateShort:
		list = []tg.UpdateClass{u.Update}
	default:
		return nil
	}

	var out []*tg.Message

	for _, item := range list {
		var msg tg.MessageClass

		switch v := item.(type) {
		case *tg.UpdateNewMessage:
			msg = v.Message
		case *tg.UpdateNewChannelMessage:
			msg = v.Message
		case *tg.UpdateEditMessage:
			msg = v.Message
		case *tg.UpdateEditChannelMessage:
			msg = v.Message
		}

		if m, ok := msg.(*tg.Message); ok {
			out = append(out, m)
		}
	}

	return out
}

// SentMessageID returns the id of the first message created by a call.
func SentMessageID(upd tg.UpdatesClass) (int, bool) {
	if short, ok := upd.(*tg.UpdateShortSentMessage); ok {
		return short.ID, true
	}

	if msgs := SentMessages(upd); len(msgs) > 0 {
		return msgs[0].ID, true
	}

	var list []tg.UpdateClass

	switch u := upd.(type) {
	case *tg.Updates:
		list = u.Updates
	case *tg.UpdatesCombined:
		list = u.Updates
	}

	for _, item := range list {
		if idUpd, ok := item.(*tg.UpdateMessageID); ok {
			return idUpd.ID, true
		}
	}

	return 0, false
}
