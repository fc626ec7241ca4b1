package counter_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/ni660x/counter"
	"github.com/nasa-jpl/ni660x/formula"
	"github.com/nasa-jpl/ni660x/ni660x"
)

func setup(t *testing.T, names ...string) (*counter.Session, *counter.Registry, *ni660x.Mock, []counter.Channel) {
	t.Helper()
	reg := counter.NewRegistry(names)
	chans := make([]counter.Channel, len(names))
	for i := range names {
		ch, err := reg.Add(i + 1)
		require.NoError(t, err)
		chans[i] = ch
	}
	mock := ni660x.NewMock(names...)
	return counter.NewSession(mock, reg, nil), reg, mock, chans
}

func burst(n int) counter.Acquisition {
	return counter.Acquisition{Sync: counter.HardwareTrigger, Repetitions: n, HighTime: 0.1, Starts: 1}
}

func TestSingleBurstReadsAreContiguous(t *testing.T) {
	require := require.New(t)
	s, _, mock, chans := setup(t, "ctr0", "ctr1")

	require.NoError(s.Configure(burst(5)))
	for _, ch := range chans {
		require.NoError(s.Arm(ch))
	}
	require.NoError(s.Start())
	require.Equal(counter.Running, s.State())

	got := map[string][]float64{}
	read := func() {
		for _, ch := range chans {
			rd, err := s.Read(ch.Name)
			require.NoError(err)
			if len(rd.Values) > 0 {
				require.Equal(len(got[ch.Name]), rd.First, "reading of %s must start where the last one ended", ch.Name)
			}
			got[ch.Name] = append(got[ch.Name], rd.Values...)
		}
	}

	mock.Produce("ctr0", 1, 2, 3)
	mock.Produce("ctr1", 1, 2)
	idx, err := s.Poll()
	require.NoError(err)
	require.Equal(1, idx, "the slowest channel bounds the ready index")
	read()
	require.Equal([]float64{1, 2}, got["ctr0"])
	require.Equal([]float64{1, 2}, got["ctr1"])

	mock.Produce("ctr0", 4, 5)
	mock.Produce("ctr1", 3, 4, 5)

	state, msg, err := s.Status("ctr0")
	require.NoError(err)
	require.Equal(counter.Acquiring, state)
	require.Equal(counter.StatusDraining, msg)

	idx, err = s.Poll()
	require.NoError(err)
	require.Equal(4, idx)
	read()

	for _, ch := range chans {
		require.Equal([]float64{1, 2, 3, 4, 5}, got[ch.Name])
		last, ok := s.Tracker().LastIndexRead(ch.Name)
		require.True(ok)
		require.Equal(4, last)
	}
	require.Equal(counter.Draining, s.State())

	state, msg, err = s.Status("ctr1")
	require.NoError(err)
	require.Equal(counter.Ready, state)
	require.Equal(counter.StatusReady, msg)
}

func TestReadWithoutNewReadinessIsEmpty(t *testing.T) {
	require := require.New(t)
	s, _, mock, chans := setup(t, "ctr0")

	require.NoError(s.Configure(burst(4)))
	require.NoError(s.Arm(chans[0]))
	require.NoError(s.Start())
	mock.Produce("ctr0", 7, 8)
	_, err := s.Poll()
	require.NoError(err)

	rd, err := s.Read("ctr0")
	require.NoError(err)
	require.Equal([]float64{7, 8}, rd.Values)

	rd, err = s.Read("ctr0")
	require.NoError(err)
	require.Empty(rd.Values)
	require.Equal(-1, rd.First)
	require.Equal(1, mock.Count("get_channel_data"), "a stale read must not reach the card")
}

func TestSingleSampleBurstDeliversOnce(t *testing.T) {
	require := require.New(t)
	s, _, mock, chans := setup(t, "ctr0")

	require.NoError(s.Configure(burst(1)))
	require.NoError(s.Arm(chans[0]))
	require.NoError(s.Start())
	mock.Produce("ctr0", 42)
	_, err := s.Poll()
	require.NoError(err)

	rd, err := s.Read("ctr0")
	require.NoError(err)
	require.Equal([]float64{42}, rd.Values)
	last, _ := s.Tracker().LastIndexRead("ctr0")
	require.Equal(-1, last)

	rd, err = s.Read("ctr0")
	require.NoError(err)
	require.Empty(rd.Values)
}

func TestConfigureRejectsSoftwareSynchronization(t *testing.T) {
	s, _, mock, chans := setup(t, "ctr0")
	require.NoError(t, s.Configure(burst(3)))
	require.NoError(t, s.Arm(chans[0]))
	require.NoError(t, s.Start())
	mock.Produce("ctr0", 1)
	_, err := s.Poll()
	require.NoError(t, err)
	before := s.Snapshot()

	for _, sync := range []counter.SyncMode{counter.SoftwareTrigger, counter.SoftwareGate, counter.SoftwareStart} {
		err := s.Configure(counter.Acquisition{Sync: sync, Repetitions: 10, HighTime: 1, Starts: 1})
		assert.ErrorIs(t, err, counter.ErrUnsupportedSynchronization, sync.String())
		assert.Equal(t, before, s.Snapshot(), "a rejected configure must leave the session as it was")
	}
}

func TestStartIsIdempotentInSingleBurst(t *testing.T) {
	require := require.New(t)
	s, _, mock, chans := setup(t, "ctr0", "ctr1")

	require.NoError(s.Configure(burst(10)))
	for _, ch := range chans {
		require.NoError(s.Arm(ch))
	}
	require.NoError(s.Start())

	// the framework arms and starts again on every step
	for i := 0; i < 3; i++ {
		for _, ch := range chans {
			require.NoError(s.Arm(ch))
		}
		require.NoError(s.Start())
	}
	require.Equal(1, mock.Count("set_channels_enabled"))
	require.Equal(1, mock.Count("stop_channels"))
	require.Equal(1, mock.Count("start_channels"))
	require.Len(s.Armed(), 2)
	require.True(mock.Enabled("ctr0"))
}

func TestArmDoesNotDuplicateChannels(t *testing.T) {
	s, _, _, chans := setup(t, "ctr0")
	require.NoError(t, s.Configure(burst(2)))
	require.NoError(t, s.Arm(chans[0]))
	require.NoError(t, s.Arm(chans[0]))
	require.Len(t, s.Armed(), 1)
	require.Equal(t, counter.Armed, s.State())
}

func TestArmBeforeConfigureFails(t *testing.T) {
	s, _, _, chans := setup(t, "ctr0")
	require.ErrorIs(t, s.Arm(chans[0]), counter.ErrNotConfigured)
}

func TestStartWithoutArmedChannels(t *testing.T) {
	s, _, _, _ := setup(t, "ctr0")
	require.NoError(t, s.Configure(burst(2)))
	require.ErrorIs(t, s.Start(), counter.ErrInvalidTransition)
}

func TestConfigureClearsArmedChannels(t *testing.T) {
	require := require.New(t)
	s, _, mock, chans := setup(t, "ctr0")
	require.NoError(s.Configure(burst(2)))
	require.NoError(s.Arm(chans[0]))
	require.NoError(s.Start())
	mock.Produce("ctr0", 1, 2)
	_, err := s.Poll()
	require.NoError(err)

	require.NoError(s.Configure(burst(3)))
	require.Empty(s.Armed())
	require.Equal(-1, s.Tracker().NewIndexReady())
	_, ok := s.Tracker().LastIndexRead("ctr0")
	require.False(ok)
	require.Equal(counter.Configuring, s.State())
}

func TestSubScanDeliversOneSamplePerCycle(t *testing.T) {
	require := require.New(t)
	s, _, mock, chans := setup(t, "ctr0", "ctr1")

	acq := counter.Acquisition{Sync: counter.HardwareStart, Repetitions: 3, HighTime: 0.01, Starts: 3}
	require.NoError(s.Configure(acq))
	require.Equal(counter.RepeatedSubScan, s.Mode())

	for i := 0; i < 3; i++ {
		require.NoError(s.Load(0.01))
		require.Equal(1, s.SampleCount())
		for _, ch := range chans {
			require.NoError(s.Arm(ch))
		}
		require.NoError(s.Start())
		for _, ch := range chans {
			mock.Produce(ch.Name, float64(10+i))
		}
		idx, err := s.Poll()
		require.NoError(err)
		require.Equal(i, idx)

		for _, ch := range chans {
			rd, err := s.Read(ch.Name)
			require.NoError(err)
			require.Equal([]float64{float64(10 + i)}, rd.Values)
			require.Equal(i, rd.First)

			last, _ := s.Tracker().LastIndexRead(ch.Name)
			require.Equal(-1, last)

			rd, err = s.Read(ch.Name)
			require.NoError(err)
			require.Empty(rd.Values, "the sub-scan sample goes out once")
		}
	}
	require.Len(s.Armed(), 2)
	require.Equal(1, mock.Count("set_channels_enabled"))
	require.Equal(3, mock.Count("stop_channels"))
	require.Equal(3, mock.Count("start_channels"))

	state, _, err := s.Status("ctr0")
	require.NoError(err)
	require.Equal(counter.Ready, state)
}

func TestSubScanPollBeforeTrigger(t *testing.T) {
	require := require.New(t)
	s, _, mock, chans := setup(t, "ctr0", "ctr1")

	acq := counter.Acquisition{Sync: counter.HardwareTrigger, Repetitions: 1, HighTime: 0.01, Starts: 3}
	require.NoError(s.Configure(acq))

	got := map[string][]float64{}
	for i := 0; i < 3; i++ {
		require.NoError(s.Load(0.01))
		for _, ch := range chans {
			require.NoError(s.Arm(ch))
			rd, err := s.Read(ch.Name)
			require.NoError(err)
			require.Empty(rd.Values, "nothing is served between Load and the next poll")
		}
		require.NoError(s.Start())

		// the trigger has not fired yet
		_, err := s.Poll()
		require.NoError(err)
		for _, ch := range chans {
			rd, err := s.Read(ch.Name)
			require.NoError(err)
			require.Empty(rd.Values, "cycle %d: the sample of the previous start is not delivered again", i)
		}
		state, _, err := s.Status("ctr0")
		require.NoError(err)
		require.Equal(counter.Acquiring, state)

		for _, ch := range chans {
			mock.Produce(ch.Name, float64(10+i))
		}
		idx, err := s.Poll()
		require.NoError(err)
		require.Equal(i, idx)
		for _, ch := range chans {
			rd, err := s.Read(ch.Name)
			require.NoError(err)
			require.Equal(i, rd.First)
			got[ch.Name] = append(got[ch.Name], rd.Values...)
		}
	}
	require.Equal(map[string][]float64{
		"ctr0": {10, 11, 12},
		"ctr1": {10, 11, 12},
	}, got)
}

func TestSubScanIgnoresSamplesOfEarlierRuns(t *testing.T) {
	require := require.New(t)
	s, _, mock, chans := setup(t, "ctr0")

	require.NoError(s.Configure(burst(2)))
	require.NoError(s.Arm(chans[0]))
	require.NoError(s.Start())
	mock.Produce("ctr0", 1, 2)

	require.NoError(s.Configure(counter.Acquisition{Sync: counter.HardwareGate, HighTime: 0.01, Starts: 2}))
	require.NoError(s.Load(0.01))
	require.NoError(s.Arm(chans[0]))
	require.NoError(s.Start())
	require.Equal(1, s.Tracker().Baseline())

	_, err := s.Poll()
	require.NoError(err)
	rd, err := s.Read("ctr0")
	require.NoError(err)
	require.Empty(rd.Values)

	mock.Produce("ctr0", 7)
	_, err = s.Poll()
	require.NoError(err)
	rd, err = s.Read("ctr0")
	require.NoError(err)
	require.Equal([]float64{7}, rd.Values)
	require.Equal(2, rd.First)
}

func TestLoadIsNoopInSingleBurst(t *testing.T) {
	s, _, _, _ := setup(t, "ctr0")
	require.NoError(t, s.Configure(burst(5)))
	require.NoError(t, s.Load(3))
	require.Equal(t, 5, s.SampleCount())
	require.Equal(t, 0.1, s.HighTime())
}

func TestPositionCapture(t *testing.T) {
	require := require.New(t)
	s, reg, mock, chans := setup(t, "enc0")
	require.NoError(reg.Configure(1, counter.KeyPositionCapture, true))
	require.NoError(reg.Configure(1, counter.KeyPositionStart, 10.))

	require.NoError(s.Configure(burst(5)))
	require.NoError(s.Arm(chans[0]))
	require.NoError(s.Start())
	mock.Produce("enc0", 100, 102, 105)
	_, err := s.Poll()
	require.NoError(err)

	rd, err := s.Read("enc0")
	require.NoError(err)
	require.NoError(rd.Warning)
	require.Equal([]float64{10, 12, 15}, rd.Values)
	ref, ok := s.Tracker().Reference("enc0")
	require.True(ok)
	require.Equal(100., ref)

	// later reads keep the first reference
	mock.Produce("enc0", 110, 120)
	_, err = s.Poll()
	require.NoError(err)
	rd, err = s.Read("enc0")
	require.NoError(err)
	require.Equal([]float64{20, 30}, rd.Values)
}

func TestPositionCaptureBadFormulaFallsBack(t *testing.T) {
	require := require.New(t)
	s, reg, mock, chans := setup(t, "enc0")
	require.NoError(reg.Configure(1, "position_capture", "true"))
	require.NoError(reg.Configure(1, "position_start", "10"))
	require.NoError(reg.Configure(1, "position_formula", "start + bogus"))

	require.NoError(s.Configure(burst(3)))
	require.NoError(s.Arm(chans[0]))
	require.NoError(s.Start())
	mock.Produce("enc0", 100, 102, 105)
	_, err := s.Poll()
	require.NoError(err)

	rd, err := s.Read("enc0")
	require.NoError(err, "a bad formula never fails the read")
	require.Equal([]float64{0, 2, 5}, rd.Values)
	var terr *counter.TransformError
	require.ErrorAs(rd.Warning, &terr)
	require.Equal("enc0", terr.Channel)
	require.ErrorIs(rd.Warning, formula.ErrUnboundName)
}

func TestPositionCaptureReferenceSurvivesSubScans(t *testing.T) {
	require := require.New(t)
	s, reg, mock, chans := setup(t, "enc0")
	require.NoError(reg.Configure(1, counter.KeyPositionCapture, true))
	require.NoError(reg.Configure(1, counter.KeyPositionFormula, "start + pos / 2"))

	require.NoError(s.Configure(counter.Acquisition{Sync: counter.HardwareGate, Repetitions: 2, HighTime: 0.1, Starts: 2}))
	var got []float64
	for _, raw := range []float64{100, 104} {
		require.NoError(s.Load(0.1))
		require.NoError(s.Arm(chans[0]))
		require.NoError(s.Start())
		mock.Produce("enc0", raw)
		_, err := s.Poll()
		require.NoError(err)
		rd, err := s.Read("enc0")
		require.NoError(err)
		got = append(got, rd.Values...)
	}
	require.Equal([]float64{0, 2}, got)
}

func TestNoReferenceWithoutPositionCapture(t *testing.T) {
	s, _, mock, chans := setup(t, "ctr0")
	require.NoError(t, s.Configure(burst(2)))
	require.NoError(t, s.Arm(chans[0]))
	require.NoError(t, s.Start())
	mock.Produce("ctr0", 5, 6)
	_, err := s.Poll()
	require.NoError(t, err)
	rd, err := s.Read("ctr0")
	require.NoError(t, err)
	require.Equal(t, []float64{5, 6}, rd.Values)
	_, ok := s.Tracker().Reference("ctr0")
	require.False(t, ok)
}

func TestAbortOverridesCardState(t *testing.T) {
	require := require.New(t)
	s, _, mock, chans := setup(t, "ctr0")
	require.NoError(s.Configure(burst(100)))
	require.NoError(s.Arm(chans[0]))
	require.NoError(s.Start())
	mock.Produce("ctr0", 1, 2)

	state, msg, err := s.Status("ctr0")
	require.NoError(err)
	require.Equal(counter.Acquiring, state)
	require.Equal(counter.StatusCounting, msg)

	require.NoError(s.Abort())
	require.Equal(counter.Idle, s.State())
	require.True(s.Stopped())

	// the mock is stopped now; force it busy again to prove the flag wins
	mock.FailOn("is_channel_done", errors.New("must not be asked"))
	state, msg, err = s.Status("ctr0")
	require.NoError(err)
	require.Equal(counter.Ready, state)
	require.Equal(counter.StatusReady, msg)

	_, err = s.Poll()
	require.NoError(err)
	rd, err := s.Read("ctr0")
	require.NoError(err)
	require.Empty(rd.Values, "undelivered samples are discarded on abort")
}

func TestAbortInIdleIsSafe(t *testing.T) {
	s, _, mock, _ := setup(t, "ctr0")
	require.NoError(t, s.Abort())
	require.Equal(t, 0, mock.Count("stop_channels"))
	require.Equal(t, counter.Idle, s.State())
}

func TestRemoteFailureLeavesCursor(t *testing.T) {
	require := require.New(t)
	s, _, mock, chans := setup(t, "ctr0")
	require.NoError(s.Configure(burst(3)))
	require.NoError(s.Arm(chans[0]))
	require.NoError(s.Start())
	mock.Produce("ctr0", 1, 2, 3)
	_, err := s.Poll()
	require.NoError(err)

	boom := errors.New("boom")
	mock.FailOn("get_channel_data", boom)
	_, err = s.Read("ctr0")
	var rerr *counter.RemoteError
	require.ErrorAs(err, &rerr)
	require.Equal("get_channel_data", rerr.Op)
	require.ErrorIs(err, boom)
	last, _ := s.Tracker().LastIndexRead("ctr0")
	require.Equal(-1, last)

	mock.FailOn("get_channel_data", nil)
	rd, err := s.Read("ctr0")
	require.NoError(err)
	require.Equal([]float64{1, 2, 3}, rd.Values)
}

func TestStartFailureMovesToError(t *testing.T) {
	require := require.New(t)
	s, _, mock, chans := setup(t, "ctr0")
	require.NoError(s.Configure(burst(3)))
	require.NoError(s.Arm(chans[0]))
	mock.FailOn("start_channels", errors.New("card busy"))

	err := s.Start()
	var rerr *counter.RemoteError
	require.ErrorAs(err, &rerr)
	require.Equal(counter.Error, s.State())
	require.ErrorIs(s.Start(), counter.ErrInvalidTransition, "the caller must abort and reconfigure")

	mock.FailOn("start_channels", nil)
	require.NoError(s.Abort())
	require.NoError(s.Configure(burst(3)))
	require.NoError(s.Arm(chans[0]))
	require.NoError(s.Start())
}

func TestReadUnarmedChannel(t *testing.T) {
	s, _, _, _ := setup(t, "ctr0", "ctr1")
	require.NoError(t, s.Configure(burst(3)))
	_, err := s.Read("ctr1")
	require.ErrorIs(t, err, counter.ErrNotArmed)
}

func TestParseSyncMode(t *testing.T) {
	tests := []struct {
		in   string
		want counter.SyncMode
	}{
		{"HardwareGate", counter.HardwareGate},
		{"hardwarestart", counter.HardwareStart},
		{"1", counter.HardwareTrigger},
		{"0", counter.SoftwareTrigger},
	}
	for _, tt := range tests {
		got, err := counter.ParseSyncMode(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
	_, err := counter.ParseSyncMode("sometimes")
	require.ErrorIs(t, err, counter.ErrInvalidValue)
}
