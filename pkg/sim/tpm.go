package sim

import (
	"bytes"
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/binary"
	"io"

	"github.com/google/go-tpm/tpm2"
	"github.com/kairos-io/go-oslo/pkg/constants"
)

const (
	headerSize = 10
	// a PCR_Read response carries at most this many digests
	maxReadDigests = 8
	// PCRs 17-22 hold all ones until a dynamic launch resets them
	firstDynamicPCR = 17
	lastDynamicPCR  = 22
)

// Extension is a PCR_Extend the TPM executed.
type Extension struct {
	PCR    int
	Alg    tpm2.TPMAlgID
	Digest []byte
}

// TPM is a software TPM 2.0 answering Startup, PCR_Extend and PCR_Read.
type TPM struct {
	Started    bool
	Extensions []Extension

	// StartupRC and ExtendRC, when set, are returned instead of executing
	// the command.
	StartupRC tpm2.TPMRC
	ExtendRC  tpm2.TPMRC

	banks map[tpm2.TPMAlgID]*[constants.PCRCount][]byte
}

// NewTPM returns a TPM with a bank per algorithm, SHA-1 and SHA-256 by
// default. The dynamic PCRs start out as all ones like after a power cycle.
func NewTPM(algs ...tpm2.TPMAlgID) *TPM {
	if len(algs) == 0 {
		algs = []tpm2.TPMAlgID{tpm2.TPMAlgSHA1, tpm2.TPMAlgSHA256}
	}

	t := &TPM{banks: map[tpm2.TPMAlgID]*[constants.PCRCount][]byte{}}

	for _, alg := range algs {
		h, err := alg.Hash()
		if err != nil {
			continue
		}

		bank := &[constants.PCRCount][]byte{}
		for i := range bank {
			bank[i] = make([]byte, h.Size())
			if i >= firstDynamicPCR && i <= lastDynamicPCR {
				for j := range bank[i] {
					bank[i][j] = 0xff
				}
			}
		}

		t.banks[alg] = bank
	}

	return t
}

// DynamicReset zeroes PCRs 17-22 the way a secure launch does.
func (t *TPM) DynamicReset() {
	for _, bank := range t.banks {
		for i := firstDynamicPCR; i <= lastDynamicPCR; i++ {
			clear(bank[i])
		}
	}
}

// PCR returns a copy of a PCR value, nil for an unknown bank or index.
func (t *TPM) PCR(alg tpm2.TPMAlgID, index int) []byte {
	bank, ok := t.banks[alg]
	if !ok || index < 0 || index >= constants.PCRCount {
		return nil
	}

	return bytes.Clone(bank[index])
}

// Handle executes a marshalled command and returns the marshalled response.
func (t *TPM) Handle(cmd []byte) []byte {
	if len(cmd) < headerSize || int(binary.BigEndian.Uint32(cmd[2:6])) != len(cmd) {
		return failure(tpm2.TPMRCCommandSize)
	}

	cc := tpm2.TPMCC(binary.BigEndian.Uint32(cmd[6:10]))
	body := bytes.NewReader(cmd[headerSize:])

	if cc != tpm2.TPMCCStartup && !t.Started {
		return failure(tpm2.TPMRCInitialize)
	}

	switch cc {
	case tpm2.TPMCCStartup:
		return t.startup()
	case tpm2.TPMCCPCRExtend:
		return t.extend(body)
	case tpm2.TPMCCPCRRead:
		return t.read(body)
	default:
		return failure(tpm2.TPMRCCommandCode)
	}
}

// Send implements transport.TPM so the TPM can be used without a TIS
// device in between.
func (t *TPM) Send(cmd []byte) ([]byte, error) {
	return t.Handle(cmd), nil
}

func (t *TPM) startup() []byte {
	if t.StartupRC != tpm2.TPMRCSuccess {
		return failure(t.StartupRC)
	}

	if t.Started {
		return failure(tpm2.TPMRCInitialize)
	}

	t.Started = true

	return response(tpm2.TPMSTNoSessions, nil)
}

func (t *TPM) extend(body *bytes.Reader) []byte {
	var handle, authSize, count uint32

	if err := binary.Read(body, binary.BigEndian, &handle); err != nil {
		return failure(tpm2.TPMRCCommandSize)
	}

	if err := binary.Read(body, binary.BigEndian, &authSize); err != nil {
		return failure(tpm2.TPMRCCommandSize)
	}

	if _, err := body.Seek(int64(authSize), io.SeekCurrent); err != nil {
		return failure(tpm2.TPMRCCommandSize)
	}

	if err := binary.Read(body, binary.BigEndian, &count); err != nil {
		return failure(tpm2.TPMRCCommandSize)
	}

	if handle >= constants.PCRCount {
		return failure(tpm2.TPMRCValue)
	}

	if t.ExtendRC != tpm2.TPMRCSuccess {
		return failure(t.ExtendRC)
	}

	for i := uint32(0); i < count; i++ {
		var alg uint16
		if err := binary.Read(body, binary.BigEndian, &alg); err != nil {
			return failure(tpm2.TPMRCCommandSize)
		}

		bank, ok := t.banks[tpm2.TPMAlgID(alg)]
		if !ok {
			return failure(tpm2.TPMRCHash)
		}

		h, _ := tpm2.TPMAlgID(alg).Hash()

		digest := make([]byte, h.Size())
		if _, err := io.ReadFull(body, digest); err != nil {
			return failure(tpm2.TPMRCCommandSize)
		}

		bank[handle] = extend(h, bank[handle], digest)
		t.Extensions = append(t.Extensions, Extension{PCR: int(handle), Alg: tpm2.TPMAlgID(alg), Digest: digest})
	}

	// empty parameter area followed by the password session acknowledgement
	var rsp bytes.Buffer

	_ = binary.Write(&rsp, binary.BigEndian, uint32(0))
	_ = binary.Write(&rsp, binary.BigEndian, uint16(0))
	rsp.WriteByte(0x01)
	_ = binary.Write(&rsp, binary.BigEndian, uint16(0))

	return response(tpm2.TPMSTSessions, rsp.Bytes())
}

func (t *TPM) read(body *bytes.Reader) []byte {
	var count uint32
	if err := binary.Read(body, binary.BigEndian, &count); err != nil {
		return failure(tpm2.TPMRCCommandSize)
	}

	var (
		sel     bytes.Buffer
		digests [][]byte
		n       uint32
	)

	for i := uint32(0); i < count; i++ {
		var alg uint16
		if err := binary.Read(body, binary.BigEndian, &alg); err != nil {
			return failure(tpm2.TPMRCCommandSize)
		}

		size, err := body.ReadByte()
		if err != nil {
			return failure(tpm2.TPMRCCommandSize)
		}

		mask := make([]byte, size)
		if _, err := io.ReadFull(body, mask); err != nil {
			return failure(tpm2.TPMRCCommandSize)
		}

		bank := t.banks[tpm2.TPMAlgID(alg)]
		out := make([]byte, size)

		for pcr := 0; pcr < int(size)*8 && pcr < constants.PCRCount; pcr++ {
			if mask[pcr/8]&(1<<(pcr%8)) == 0 || bank == nil || len(digests) == maxReadDigests {
				continue
			}

			out[pcr/8] |= 1 << (pcr % 8)
			digests = append(digests, bank[pcr])
		}

		_ = binary.Write(&sel, binary.BigEndian, alg)
		sel.WriteByte(size)
		sel.Write(out)
		n++
	}

	var rsp bytes.Buffer

	_ = binary.Write(&rsp, binary.BigEndian, uint32(len(t.Extensions)))
	_ = binary.Write(&rsp, binary.BigEndian, n)
	rsp.Write(sel.Bytes())
	_ = binary.Write(&rsp, binary.BigEndian, uint32(len(digests)))

	for _, d := range digests {
		_ = binary.Write(&rsp, binary.BigEndian, uint16(len(d)))
		rsp.Write(d)
	}

	return response(tpm2.TPMSTNoSessions, rsp.Bytes())
}

func extend(h crypto.Hash, old, digest []byte) []byte {
	w := h.New()
	w.Write(old)
	w.Write(digest)

	return w.Sum(nil)
}

func response(tag tpm2.TPMST, body []byte) []byte {
	rsp := make([]byte, headerSize, headerSize+len(body))

	binary.BigEndian.PutUint16(rsp[0:], uint16(tag))
	binary.BigEndian.PutUint32(rsp[2:], uint32(headerSize+len(body)))
	binary.BigEndian.PutUint32(rsp[6:], uint32(tpm2.TPMRCSuccess))

	return append(rsp, body...)
}

func failure(rc tpm2.TPMRC) []byte {
	rsp := make([]byte, headerSize)

	binary.BigEndian.PutUint16(rsp[0:], uint16(tpm2.TPMSTNoSessions))
	binary.BigEndian.PutUint32(rsp[2:], headerSize)
	binary.BigEndian.PutUint32(rsp[6:], uint32(rc))

	return rsp
}
