package respio_test

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pzhenzhou/elika-client/pkg/respio"
)

func TestRespio(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Respio Suite", Label("respio"))
}

func encode(reply *respio.Reply) []byte {
	var buf bytes.Buffer
	w := respio.NewWriter(&buf)
	Expect(w.WriteReply(reply)).To(Succeed())
	Expect(w.Flush()).To(Succeed())
	return buf.Bytes()
}

func roundTrip(reply *respio.Reply) (*respio.Reply, error) {
	return respio.NewReaderFromBytes(encode(reply)).Read()
}

func sameReply(a, b *respio.Reply) bool {
	if a.Kind != b.Kind || a.Null != b.Null || a.Int != b.Int {
		return false
	}
	if !bytes.Equal(a.Str, b.Str) || len(a.Array) != len(b.Array) {
		return false
	}
	for i := range a.Array {
		if !sameReply(a.Array[i], b.Array[i]) {
			return false
		}
	}
	return true
}

// lineSafe keeps status and error payloads free of line terminators.
func lineSafe(s string) string {
	return string(bytes.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, []byte(s)))
}

func scalarGen() gopter.Gen {
	return gen.OneGenOf(
		gen.AlphaString().Map(func(s string) *respio.Reply { return respio.StatusReply(lineSafe(s)) }),
		gen.AlphaString().Map(func(s string) *respio.Reply { return respio.ErrorReply("ERR " + lineSafe(s)) }),
		gen.Int64().Map(func(n int64) *respio.Reply { return respio.IntReply(n) }),
		gen.SliceOf(gen.UInt8()).Map(func(b []byte) *respio.Reply {
			if b == nil {
				b = []byte{}
			}
			return respio.BulkReply(b)
		}),
		gen.Const(respio.NullBulkReply()),
		gen.Const(respio.NullArrayReply()),
	)
}

var _ = Describe("RESP round trip", func() {
	var parameters *gopter.TestParameters

	BeforeEach(func() {
		parameters = gopter.DefaultTestParameters()
		parameters.Rng.Seed(2024)
		parameters.MinSuccessfulTests = 200
	})

	It("should reproduce every scalar reply shape", func() {
		properties := gopter.NewProperties(parameters)
		properties.Property("scalar round trip", prop.ForAll(
			func(reply *respio.Reply) bool {
				decoded, err := roundTrip(reply)
				return err == nil && sameReply(reply, decoded)
			},
			scalarGen(),
		))
		Expect(properties.Run(gopter.ConsoleReporter(false))).To(BeTrue())
	})

	It("should reproduce arrays and nested arrays", func() {
		properties := gopter.NewProperties(parameters)
		properties.Property("array round trip", prop.ForAll(
			func(outer, inner []*respio.Reply) bool {
				reply := respio.ArrayReply(append(outer, respio.ArrayReply(inner...))...)
				decoded, err := roundTrip(reply)
				return err == nil && sameReply(reply, decoded)
			},
			gen.SliceOf(scalarGen()),
			gen.SliceOf(scalarGen()),
		))
		Expect(properties.Run(gopter.ConsoleReporter(false))).To(BeTrue())
	})

	It("should encode commands as binary safe bulk arrays", func() {
		properties := gopter.NewProperties(parameters)
		properties.Property("command round trip", prop.ForAll(
			func(verb string, args [][]byte) bool {
				cmd := []byte("X" + verb)
				decoded, err := respio.NewReaderFromBytes(respio.AppendCommand(nil, cmd, args...)).Read()
				if err != nil || decoded.Kind != respio.KindArray || len(decoded.Array) != len(args)+1 {
					return false
				}
				if !bytes.Equal(decoded.Array[0].Str, cmd) {
					return false
				}
				for i, arg := range args {
					if !bytes.Equal(decoded.Array[i+1].Str, arg) {
						return false
					}
				}
				return true
			},
			gen.AlphaString(),
			gen.SliceOf(gen.SliceOf(gen.UInt8())),
		))
		Expect(properties.Run(gopter.ConsoleReporter(false))).To(BeTrue())
	})

	It("should decode consecutive replies in order", func() {
		stream := append(encode(respio.StatusReply("OK")), encode(respio.IntReply(3))...)
		stream = append(stream, encode(respio.NullBulkReply())...)
		reader := respio.NewReaderFromBytes(stream)

		first, err := reader.Read()
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Text()).To(Equal("OK"))
		second, err := reader.Read()
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Int).To(Equal(int64(3)))
		third, err := reader.Read()
		Expect(err).NotTo(HaveOccurred())
		Expect(third.IsNull()).To(BeTrue())
	})
})
