package netview

// Stream — упорядоченный список значений одного снимка. При записи
// компоненты вызывают SendNext, при чтении — ReceiveNext в том же порядке.
type Stream struct {
	writing bool
	values  []any
	pos     int
}

func newWriteStream() *Stream { return &Stream{writing: true} }

func newReadStream(values []any) *Stream { return &Stream{values: values} }

func (s *Stream) IsWriting() bool { return s.writing }

func (s *Stream) IsReading() bool { return !s.writing }

// SendNext добавляет значение; при чтении игнорируется.
func (s *Stream) SendNext(v any) {
	if s.writing {
		s.values = append(s.values, v)
	}
}

// ReceiveNext возвращает следующее значение или nil, если их больше нет.
func (s *Stream) ReceiveNext() any {
	if s.writing || s.pos >= len(s.values) {
		return nil
	}
	v := s.values[s.pos]
	s.pos++
	return v
}

func (s *Stream) PeekNext() any {
	if s.writing || s.pos >= len(s.values) {
		return nil
	}
	return s.values[s.pos]
}

func (s *Stream) Count() int { return len(s.values) }
