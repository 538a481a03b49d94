package testutils

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *test.Hook
}

// NewTestHelper creates a test helper whose logger output is captured by Hook.
func NewTestHelper(t *testing.T) *TestHelper {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel) // keep debug entries to follow the execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
		Hook:   hook,
	}
}

// RecordingSleeper returns a sleeper that journals each pause instead of sleeping.
func RecordingSleeper(rec *Recorder) func(time.Duration) {
	return func(d time.Duration) {
		rec.Record("sleep %s", d)
	}
}

// FixedClock returns a clock starting at start and advancing by step per call.
func FixedClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := next
		next = next.Add(step)
		return now
	}
}

// RadioSuite provides a fresh FakeRadio, FakeLink and journal for every test.
//
//	type SessionSuite struct {
//	    testutils.RadioSuite
//	}
//
//	func (s *SessionSuite) SetupTest() {
//	    s.RadioSuite.SetupTest()
//	    s.Link.ExpectDefaults()
//	    s.Radio.ExpectDefaults(s.Link)
//	}
type RadioSuite struct {
	suite.Suite

	Helper   *TestHelper
	Logger   *logrus.Logger
	Radio    *FakeRadio
	Link     *FakeLink
	Recorder *Recorder
}

// SetupSuite creates the shared helper. Called once before all tests.
func (s *RadioSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
}

// SetupTest creates fresh fakes without expectations.
func (s *RadioSuite) SetupTest() {
	s.Helper.Hook.Reset()
	s.Recorder = &Recorder{}
	s.Link = NewFakeLink(s.Recorder)
	s.Radio = NewFakeRadio()
}

// TearDownTest verifies non-optional expectations.
func (s *RadioSuite) TearDownTest() {
	s.Radio.AssertExpectations(s.T())
	s.Link.AssertExpectations(s.T())
}
