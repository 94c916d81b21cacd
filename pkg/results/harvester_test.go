package results

import (
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/srand/fgmachine/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type HarvesterTestSuite struct {
	suite.Suite
	fs        afero.Fs
	harvester *Harvester
}

func (s *HarvesterTestSuite) SetupTest() {
	s.fs = utils.NewMemFs()
	s.harvester = NewHarvester(s.fs)
}

func (s *HarvesterTestSuite) write(path, data string) {
	require.NoError(s.T(), afero.WriteFile(s.fs, path, []byte(data), 0666))
}

func (s *HarvesterTestSuite) collect(root, id string) ([]Payload, []error) {
	var payloads []Payload
	var errs []error
	for payload, err := range s.harvester.Harvest(root, id) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		payloads = append(payloads, payload)
	}
	return payloads, errs
}

func (s *HarvesterTestSuite) TestMissingDirectory() {
	payloads, errs := s.collect("/results", "nope")
	s.Empty(payloads)
	s.Empty(errs)
}

func (s *HarvesterTestSuite) TestOnlyJsonFiles() {
	s.write("/results/e1/out.json", `{"loss": 0.5, "epoch": 3}`)
	s.write("/results/e1/notes.txt", `not a result`)
	s.write("/results/e1/nested/deep.json", `{"x": 1}`)
	s.write("/results/e2/other.json", `{"x": 2}`)

	payloads, errs := s.collect("/results", "e1")
	s.Empty(errs)
	s.Require().Len(payloads, 1)
	s.Equal(json.Number("0.5"), payloads[0]["loss"])
	s.Equal(json.Number("3"), payloads[0]["epoch"])
}

func (s *HarvesterTestSuite) TestMalformedFileDoesNotAbort() {
	s.write("/results/e1/a.json", `{"a": 1}`)
	s.write("/results/e1/b.json", `{"b": `)
	s.write("/results/e1/c.json", `[1, 2]`)
	s.write("/results/e1/d.json", `{"d": 4}`)

	payloads, errs := s.collect("/results", "e1")
	s.Len(payloads, 2)
	s.Require().Len(errs, 2)
	for _, err := range errs {
		s.ErrorIs(err, utils.ErrResultRead)
	}
	s.Contains(payloads[0], "a")
	s.Contains(payloads[1], "d")
}

func (s *HarvesterTestSuite) TestTrailingData() {
	s.write("/results/e1/a.json", `{"a": 1} {"b": 2}`)

	payloads, errs := s.collect("/results", "e1")
	s.Empty(payloads)
	s.Len(errs, 1)
}

func (s *HarvesterTestSuite) TestSizeLimit() {
	s.harvester.MaxSize = 16
	s.write("/results/e1/big.json", `{"data": "0123456789abcdef"}`)
	s.write("/results/e1/small.json", `{"a": 1}`)

	payloads, errs := s.collect("/results", "e1")
	s.Len(payloads, 1)
	s.Require().Len(errs, 1)
	s.ErrorIs(errs[0], utils.ErrResultRead)
}

func (s *HarvesterTestSuite) TestNotRestartable() {
	s.write("/results/e1/a.json", `{"a": 1}`)

	seq := s.harvester.Harvest("/results", "e1")

	count := 0
	for range seq {
		count++
	}
	for range seq {
		count++
	}
	s.Equal(1, count)
}

func (s *HarvesterTestSuite) TestLazyEarlyStop() {
	s.write("/results/e1/a.json", `{"a": 1}`)
	s.write("/results/e1/b.json", `{"b": 2}`)

	count := 0
	for range s.harvester.Harvest("/results", "e1") {
		count++
		break
	}
	s.Equal(1, count)
}

func TestHarvesterTestSuite(t *testing.T) {
	suite.Run(t, new(HarvesterTestSuite))
}

func TestHarvestFromHostFilesystem(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()
	require.NoError(t, fs.MkdirAll(dir+"/exp", 0777))
	require.NoError(t, afero.WriteFile(fs, dir+"/exp/out.json", []byte(`{"ok": true}`), 0666))

	var payloads []Payload
	for payload, err := range NewHarvester(fs).Harvest(dir, "exp") {
		require.NoError(t, err)
		payloads = append(payloads, payload)
	}
	assert.Equal(t, []Payload{{"ok": true}}, payloads)
}
