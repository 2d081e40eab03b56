package infra

import (
	"encoding/json"

	"serial-allocator/admission/domain"

	"github.com/pkg/errors"
)

func encodeEvent(ev domain.Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Wrap(err, "encode event")
	}
	return b, nil
}

func decodeEvent(raw []byte) (domain.Event, error) {
	var ev domain.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return domain.Event{}, errors.Wrap(err, "decode event")
	}
	if ev.Reference == "" {
		return domain.Event{}, errors.New("decode event: missing reference")
	}
	return ev, nil
}

// delivery monta a entrega a partir do payload bruto; falha de decode vai em DecodeErr.
func delivery(consumer, receipt string, raw []byte, handle any) domain.Delivery {
	ev, err := decodeEvent(raw)
	return domain.Delivery{
		Event:     ev,
		Receipt:   receipt,
		Consumer:  consumer,
		Raw:       raw,
		DecodeErr: err,
		Handle:    handle,
	}
}

// nextAttempt é o evento republicado por um requeue.
func nextAttempt(ev domain.Event) domain.Event {
	ev.Attempt = max(ev.Attempt, 1) + 1
	return ev
}
