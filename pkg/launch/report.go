package launch

import (
	"encoding/hex"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/kairos-io/go-oslo/pkg/fault"
	"github.com/kairos-io/go-oslo/pkg/types"
)

// Report summarizes the launch for machine consumption.
func (l *Loader) Report(state State, err error) types.Report {
	rep := types.Report{
		Loader:   l.Config.LoaderName,
		State:    state.String(),
		Measured: l.pcrValue != nil,
		PCR:      l.Config.PCR,
	}

	if l.pcrValue != nil {
		rep.PCRValue = hex.EncodeToString(l.pcrValue)
	}

	for i, m := range l.measurements {
		rep.Modules = append(rep.Modules, types.ModuleMeasurement{
			Index:   i,
			Cmdline: m.Cmdline,
			Start:   m.Module.Start,
			End:     m.Module.End,
			Size:    humanize.IBytes(uint64(m.Module.End - m.Module.Start)),
			Alg:     strings.ToLower(strings.ReplaceAll(m.Alg.String(), "-", "")),
			Digest:  hex.EncodeToString(m.Digest),
		})
	}

	if l.kernel != nil {
		rep.Entry = l.entry

		for _, seg := range l.kernel.Segments {
			rep.Segments = append(rep.Segments, types.Segment{Paddr: seg.Paddr, Filesz: seg.Filesz, Memsz: seg.Memsz})
		}
	}

	if err != nil {
		rep.Error = err.Error()
		rep.Code = fault.ExitCode(err)
	}

	return rep
}
