package netlist

import (
	"fmt"
	"sort"

	"github.com/edp1096/spicecore/internal/consts"
	"github.com/edp1096/spicecore/pkg/analysis"
	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/config"
	"github.com/edp1096/spicecore/pkg/device"
)

// Elaborate builds the circuit described by the deck: model cards first,
// then every element through the device registry, then .nodeset and .ic.
func Elaborate(data *NetlistData, ckt *circuit.Circuit) error {
	names := make([]string, 0, len(data.Models))
	for name := range data.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		mp := data.Models[name]
		m, err := device.NewModel(mp.Type, mp.Name)
		if err != nil {
			return err
		}
		if err := m.SetParams(mp.Params); err != nil {
			return err
		}
		if err := ckt.AddModel(m); err != nil {
			return err
		}
	}

	for _, elem := range data.Elements {
		inst, err := CreateDevice(elem)
		if err != nil {
			return err
		}
		if err := ckt.AddInstance(elem.Model, inst); err != nil {
			return err
		}
	}

	for n, v := range data.NodeSets {
		if err := ckt.Nodes.SetNodeSet(n, v); err != nil {
			return fmt.Errorf(".nodeset: %w", err)
		}
	}
	for n, v := range data.ICs {
		if err := ckt.Nodes.SetIC(n, v); err != nil {
			return fmt.Errorf(".ic: %w", err)
		}
	}
	return nil
}

// ApplyOptions overrides cfg with the deck's .options in order.
func ApplyOptions(data *NetlistData, cfg *config.Config) error {
	for _, o := range data.Options {
		if err := cfg.SetOption(o.Name, o.Value); err != nil {
			return fmt.Errorf(".options: %w", err)
		}
	}
	return nil
}

// NewAnalysis returns the analysis requested by the deck's control card.
func (data *NetlistData) NewAnalysis() (analysis.Analysis, error) {
	switch data.Analysis {
	case AnalysisTRAN:
		tp := data.TranParam
		return analysis.NewTransient(tp.TStart, tp.TStop, tp.TStep, tp.TMax, tp.UIC)
	case AnalysisAC:
		ap := data.ACParam
		return analysis.NewAC(ap.FStart, ap.FStop, ap.Points, ap.Sweep)
	case AnalysisDC:
		dp := data.DCParam
		return analysis.NewDCSweep(dp.Sources, dp.Starts, dp.Stops, dp.Increments)
	default:
		return analysis.NewOP(), nil
	}
}

func CreateDevice(elem Element) (device.Instance, error) {
	switch elem.Type {
	case "R":
		r, err := device.NewResistor(elem.Name, elem.Nodes, elem.Value)
		if err != nil {
			return nil, err
		}
		r.Tc1, r.Tc2 = elem.Params["tc1"], elem.Params["tc2"]
		if tnom, ok := elem.Params["tnom"]; ok {
			r.Tnom = tnom + consts.KELVIN
		}
		return r, nil

	case "C":
		c, err := device.NewCapacitor(elem.Name, elem.Nodes, elem.Value)
		if err != nil {
			return nil, err
		}
		if ic, ok := elem.Params["ic"]; ok {
			c.SetIC(ic)
		}
		return c, nil

	case "L":
		l, err := device.NewInductor(elem.Name, elem.Nodes, elem.Value)
		if err != nil {
			return nil, err
		}
		if ic, ok := elem.Params["ic"]; ok {
			l.SetIC(ic)
		}
		return l, nil

	case "K":
		return device.NewMutual(elem.Name, elem.Refs, elem.Value)

	case "D":
		d, err := device.NewDiode(elem.Name, elem.Nodes)
		if err != nil {
			return nil, err
		}
		if area, ok := elem.Params["area"]; ok {
			d.Area = area
		}
		if ic, ok := elem.Params["ic"]; ok {
			d.SetIC(ic)
		}
		d.Off = elem.Params["off"] != 0
		return d, nil

	case "V":
		v, err := device.NewVoltageSource(elem.Name, elem.Nodes, elem.Wave)
		if err != nil {
			return nil, err
		}
		v.SetAC(elem.ACMag, elem.ACPhase)
		return v, nil

	case "I":
		i, err := device.NewCurrentSource(elem.Name, elem.Nodes, elem.Wave)
		if err != nil {
			return nil, err
		}
		i.SetAC(elem.ACMag, elem.ACPhase)
		return i, nil
	}
	return nil, fmt.Errorf("unsupported device type: %s", elem.Type)
}
