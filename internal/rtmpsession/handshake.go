package rtmpsession

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
)

const (
	messageFormat0 = 0
	messageFormat1 = 1
	messageFormat2 = 2

	sha256DigestLen = 32
)

var randomCrud = []byte{
	0xf0, 0xee, 0xc2, 0x4a, 0x80, 0x68, 0xbe, 0xe8,
	0x2e, 0x00, 0xd0, 0xd1, 0x02, 0x9e, 0x7e, 0x57,
	0x6e, 0xec, 0x5d, 0x2d, 0x29, 0x80, 0x6f, 0xab,
	0x93, 0xb8, 0xe6, 0x36, 0xcf, 0xeb, 0x31, 0xae,
}

const genuineFMSConst = "Genuine Adobe Flash Media Server 001"
const genuineFPConst = "Genuine Adobe Flash Player 001"

var genuineFMSConstCrud = append([]byte(genuineFMSConst), randomCrud...)

func calcHmac(message, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	return h.Sum(nil)
}

func compareSignatures(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

func clientGenuineConstDigestOffset(buf []byte) uint32 {
	offset := uint32(buf[0]) + uint32(buf[1]) + uint32(buf[2]) + uint32(buf[3])
	return (offset % 728) + 12
}

func serverGenuineConstDigestOffset(buf []byte) uint32 {
	offset := uint32(buf[0]) + uint32(buf[1]) + uint32(buf[2]) + uint32(buf[3])
	return (offset % 728) + 776
}

func padOrTruncate(msg []byte, size int) []byte {
	if len(msg) < size {
		aux := make([]byte, size-len(msg))
		return append(msg, aux...)
	}
	return msg[:size]
}

func detectClientMessageFormat(clientSig []byte) uint32 {
	sdl := serverGenuineConstDigestOffset(clientSig[772:776])
	msg := append([]byte{}, clientSig[0:sdl]...)
	msg = append(msg, clientSig[(sdl+sha256DigestLen):]...)
	msg = padOrTruncate(msg, 1504)

	computed := calcHmac(msg, []byte(genuineFPConst))
	provided := clientSig[sdl:(sdl + sha256DigestLen)]
	if compareSignatures(computed, provided) {
		return messageFormat2
	}

	sdl = clientGenuineConstDigestOffset(clientSig[8:12])
	msg = append([]byte{}, clientSig[0:sdl]...)
	msg = append(msg, clientSig[(sdl+sha256DigestLen):]...)
	msg = padOrTruncate(msg, 1504)

	computed = calcHmac(msg, []byte(genuineFPConst))
	provided = clientSig[sdl:(sdl + sha256DigestLen)]
	if compareSignatures(computed, provided) {
		return messageFormat1
	}

	return messageFormat0
}

func generateS1(messageFormat uint32) []byte {
	randomBytes := make([]byte, rtmpHandshakeSize-8)
	if _, err := rand.Read(randomBytes); err != nil {
		panic(err)
	}

	handshakeBytes := append([]byte{0, 0, 0, 0, 1, 2, 3, 4}, randomBytes...)
	handshakeBytes = padOrTruncate(handshakeBytes, rtmpHandshakeSize)

	var serverDigestOffset uint32
	if messageFormat == messageFormat1 {
		serverDigestOffset = clientGenuineConstDigestOffset(handshakeBytes[8:12])
	} else {
		serverDigestOffset = clientGenuineConstDigestOffset(handshakeBytes[772:776])
	}

	msg := append([]byte{}, handshakeBytes[0:serverDigestOffset]...)
	msg = append(msg, handshakeBytes[(serverDigestOffset+sha256DigestLen):]...)
	msg = padOrTruncate(msg, rtmpHandshakeSize-sha256DigestLen)

	h := calcHmac(msg, []byte(genuineFMSConst))
	copy(handshakeBytes[serverDigestOffset:serverDigestOffset+32], h)

	return handshakeBytes
}

func generateS2(messageFormat uint32, clientSig []byte) []byte {
	randomBytes := make([]byte, rtmpHandshakeSize-32)
	if _, err := rand.Read(randomBytes); err != nil {
		panic(err)
	}

	var challengeKeyOffset uint32
	if messageFormat == messageFormat1 {
		challengeKeyOffset = clientGenuineConstDigestOffset(clientSig[8:12])
	} else {
		challengeKeyOffset = serverGenuineConstDigestOffset(clientSig[772:776])
	}

	challengeKey := clientSig[challengeKeyOffset:(challengeKeyOffset + 32)]

	h := calcHmac(challengeKey, genuineFMSConstCrud)
	signature := calcHmac(randomBytes, h)

	s2 := append(randomBytes, signature...)
	return padOrTruncate(s2, rtmpHandshakeSize)
}

// generateS0S1S2 builds the server's handshake response to a client's
// C0+C1, falling back to the basic (unsigned) handshake when the
// client's digest doesn't validate against either known offset scheme.
func generateS0S1S2(clientSig []byte) []byte {
	messageFormat := detectClientMessageFormat(clientSig)

	clientType := []byte{rtmpVersion}

	if messageFormat == messageFormat0 {
		all := append(clientType, clientSig...)
		return append(all, clientSig...)
	}

	s1 := generateS1(messageFormat)
	s2 := generateS2(messageFormat, clientSig)
	all := append(clientType, s1...)
	return append(all, s2...)
}
