package vallox

import "fmt"

// TelegramLength is the fixed size of every frame on the bus.
const TelegramLength = 6

// Domain is the first byte of every telegram.
const Domain byte = 0x01

// PollByte in the variable position marks a read request; the data byte then
// names the register being polled.
const PollByte byte = 0x00

const (
	AllMainboards Address = 0x10
	Mainboard1    Address = 0x11
	AllPanels     Address = 0x20
	Panel1        Address = 0x21
	ThisPanel     Address = 0x22
)

// Address identifies a node on the bus. Mainboards live in 0x11-0x19 and
// panels in 0x21-0x29; 0x10 and 0x20 address the whole group.
type Address byte

func (a Address) IsMainboard() bool {
	return a >= 0x11 && a <= 0x19
}

func (a Address) IsPanel() bool {
	return a >= 0x21 && a <= 0x29
}

func (a Address) IsGroup() bool {
	return a == AllMainboards || a == AllPanels
}

func (a Address) String() string {
	return fmt.Sprintf("0x%02x", byte(a))
}

// validSender reports whether a can originate a telegram.
func validSender(a Address) bool {
	return a.IsMainboard() || a.IsPanel()
}

// validReceiver reports whether a can be the target of a telegram.
func validReceiver(a Address) bool {
	return a.IsMainboard() || a.IsPanel() || a.IsGroup()
}

// Telegram is one decoded frame.
type Telegram struct {
	Sender   Address
	Receiver Address
	Variable byte
	Data     byte
}

// PollRequest builds the telegram asking for the value of register.
func PollRequest(from, to Address, register byte) Telegram {
	return Telegram{Sender: from, Receiver: to, Variable: PollByte, Data: register}
}

// IsPoll reports whether t is a read request rather than a value.
func (t Telegram) IsPoll() bool {
	return t.Variable == PollByte
}

// Checksum is the low byte of the sum of the first five frame bytes.
func (t Telegram) Checksum() byte {
	return checksum(Domain, byte(t.Sender), byte(t.Receiver), t.Variable, t.Data)
}

// Encode returns the wire form of t.
func (t Telegram) Encode() []byte {
	return []byte{Domain, byte(t.Sender), byte(t.Receiver), t.Variable, t.Data, t.Checksum()}
}

func (t Telegram) String() string {
	if t.IsPoll() {
		return fmt.Sprintf("%v->%v poll 0x%02x", t.Sender, t.Receiver, t.Data)
	}
	return fmt.Sprintf("%v->%v var 0x%02x = 0x%02x", t.Sender, t.Receiver, t.Variable, t.Data)
}

func checksum(b ...byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// Decode parses the first TelegramLength bytes of window. It returns
// ErrShortFrame when more bytes are needed and a *FrameError when the bytes
// cannot be a valid telegram.
func Decode(window []byte) (Telegram, error) {
	if len(window) < TelegramLength {
		return Telegram{}, ErrShortFrame
	}

	frame := window[:TelegramLength]
	if frame[0] != Domain {
		return Telegram{}, newFrameError(frame, "unexpected domain 0x%02x", frame[0])
	}

	t := Telegram{
		Sender:   Address(frame[1]),
		Receiver: Address(frame[2]),
		Variable: frame[3],
		Data:     frame[4],
	}

	if !validSender(t.Sender) {
		return Telegram{}, newFrameError(frame, "unknown sender %v", t.Sender)
	}
	if !validReceiver(t.Receiver) {
		return Telegram{}, newFrameError(frame, "unknown receiver %v", t.Receiver)
	}
	if sum := t.Checksum(); sum != frame[5] {
		return Telegram{}, newFrameError(frame, "checksum mismatch: expected 0x%02x, got 0x%02x", sum, frame[5])
	}

	return t, nil
}
