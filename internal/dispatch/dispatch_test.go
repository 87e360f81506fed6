package dispatch

import (
	"encoding/binary"
	"testing"

	checker "gopkg.in/check.v1"

	"github.com/extio/luabridge/internal/exttable"
	"github.com/extio/luabridge/internal/funccodec"
	"github.com/extio/luabridge/internal/hoststore"
	"github.com/extio/luabridge/internal/iobuf"
	"github.com/extio/luabridge/internal/lifecycle"
	"github.com/extio/luabridge/internal/luavm"
	"github.com/extio/luabridge/internal/wire"
)

func Test(t *testing.T) { checker.TestingT(t) }

type DispatchSuite struct {
	state *luavm.State
	buf   *iobuf.Buffer
	d     *Dispatcher
}

var _ = checker.Suite(&DispatchSuite{})

func (s *DispatchSuite) SetUpTest(c *checker.C) {
	s.state = luavm.NewState()
	counter := lifecycle.New()
	store := hoststore.NewMemstore()
	manager := exttable.NewManager(store, counter.Next)
	reg := funccodec.Build(s.state.Interp)
	codec := wire.New(reg, manager, s.state.Global)
	manager.SetCodec(codec)

	var err error
	s.buf, err = iobuf.New()
	c.Assert(err, checker.IsNil)
	s.d = New(s.state, codec, s.buf)
}

func decodeFrame(c *checker.C, buf []byte, n int) (output []byte, valueBytes []byte) {
	c.Assert(n >= 4, checker.Equals, true)
	outLen := int(binary.LittleEndian.Uint32(buf[0:4]))
	c.Assert(4+outLen <= n, checker.Equals, true)
	return buf[4 : 4+outLen], buf[4+outLen : n]
}

// §8 scenario 1.
func (s *DispatchSuite) TestSimpleArithmetic(c *checker.C) {
	n := s.d.Compute([]byte("return 1 + 1"))
	c.Assert(n >= 0, checker.Equals, true)
	out, valBytes := decodeFrame(c, s.buf.Bytes(), n)
	c.Assert(len(out), checker.Equals, 0)
	c.Assert(valBytes[0], checker.Equals, wire.TagInt)
	c.Assert(int64(binary.LittleEndian.Uint64(valBytes[1:9])), checker.Equals, int64(2))
}

// §8 scenario 2.
func (s *DispatchSuite) TestPrintAndStringReturn(c *checker.C) {
	n := s.d.Compute([]byte("print('hi'); return 'ok'"))
	c.Assert(n >= 0, checker.Equals, true)
	out, valBytes := decodeFrame(c, s.buf.Bytes(), n)
	c.Assert(string(out), checker.Equals, "hi\n")
	c.Assert(valBytes[0], checker.Equals, wire.TagString)
}

// §8 scenario 7 / property 9: error continuity.
func (s *DispatchSuite) TestCompileErrorThenSuccessContinuity(c *checker.C) {
	n := s.d.Compute([]byte("foo bar"))
	c.Assert(n < 0, checker.Equals, true)
	msg := string(s.buf.Bytes()[:-n])
	c.Assert(len(msg) > len("compile:"), checker.Equals, true)
	c.Assert(msg[:len("compile:")], checker.Equals, "compile:")

	n = s.d.Compute([]byte("return 42"))
	c.Assert(n >= 0, checker.Equals, true)
	_, valBytes := decodeFrame(c, s.buf.Bytes(), n)
	c.Assert(int64(binary.LittleEndian.Uint64(valBytes[1:9])), checker.Equals, int64(42))
}

func (s *DispatchSuite) TestRuntimeErrorTagged(c *checker.C) {
	n := s.d.Compute([]byte("error('boom')"))
	c.Assert(n < 0, checker.Equals, true)
	msg := string(s.buf.Bytes()[:-n])
	c.Assert(msg[:len("runtime:")], checker.Equals, "runtime:")
}

// §8 property 8: oversized script is InvalidLength without touching the VM.
func (s *DispatchSuite) TestOversizedScriptRejected(c *checker.C) {
	huge := make([]byte, iobuf.Size+1)
	n := s.d.Compute(huge)
	c.Assert(n < 0, checker.Equals, true)
}

func (s *DispatchSuite) TestGlobalsPersistAcrossComputeCalls(c *checker.C) {
	n := s.d.Compute([]byte("x = 10"))
	c.Assert(n >= 0, checker.Equals, true)
	n = s.d.Compute([]byte("return x + 5"))
	c.Assert(n >= 0, checker.Equals, true)
	_, valBytes := decodeFrame(c, s.buf.Bytes(), n)
	c.Assert(int64(binary.LittleEndian.Uint64(valBytes[1:9])), checker.Equals, int64(15))
}

func (s *DispatchSuite) TestPrintOverflowAppendsEllipsis(c *checker.C) {
	n := s.d.Compute([]byte(`
		local s = ""
		for i = 1, 6600 do
			s = s .. "0123456789"
		end
		print(s)
		return 1
	`))
	c.Assert(n >= 0, checker.Equals, true)
	out, _ := decodeFrame(c, s.buf.Bytes(), n)
	c.Assert(len(out) <= printCapCapacity+len(ellipsis), checker.Equals, true)
	c.Assert(string(out[len(out)-3:]), checker.Equals, "...")
}
