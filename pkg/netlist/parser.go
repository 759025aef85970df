package netlist

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/edp1096/spicecore/pkg/device"
)

type AnalysisType int

const (
	AnalysisOP AnalysisType = iota
	AnalysisTRAN
	AnalysisAC
	AnalysisDC
)

func (a AnalysisType) String() string {
	switch a {
	case AnalysisTRAN:
		return "tran"
	case AnalysisAC:
		return "ac"
	case AnalysisDC:
		return "dc"
	default:
		return "op"
	}
}

// Option is one name=value pair of an .options card, kept in deck order.
type Option struct {
	Name  string
	Value string
}

type NetlistData struct {
	Elements  []Element                    // Circuit elements
	Nodes     map[string]int               // Node name and index of first appearance
	Models    map[string]device.ModelParam // Model parameters
	Options   []Option                     // .options in deck order
	NodeSets  map[string]float64           // .nodeset v(n)=value
	ICs       map[string]float64           // .ic v(n)=value
	Analysis  AnalysisType                 // Analysis type
	TranParam struct {
		TStep  float64 // timestep
		TStop  float64 // stop time
		TStart float64 // start time
		TMax   float64 // max timestep, 0 = derived
		UIC    bool    // Use Initial Conditions
	}
	ACParam struct {
		Sweep  string  // DEC, OCT, LIN
		FStart float64 // start frequency
		Points int     // points per decade/octave, total for LIN
		FStop  float64 // stop frequency
	}
	DCParam struct {
		Sources    []string
		Starts     []float64
		Stops      []float64
		Increments []float64
	}
	Title string // Circuit title
}

type Element struct {
	Type   string             // Part type (R, L, C, V, etc.)
	Name   string             // Part name
	Nodes  []string           // Node names
	Value  float64            // Part value
	Model  string             // .model reference, D only
	Params map[string]float64 // key=value parameters (ic, tc1, area, ...)
	Refs   []string           // coupled inductor names, K only

	Wave    device.Waveform // V and I
	ACMag   float64
	ACPhase float64
}

// unitMap holds the decimal exponent of each scale suffix. Applying it to
// the exponent instead of multiplying keeps 10u exactly 1e-5.
var unitMap = map[string]int{
	"t":   12,  // tera
	"g":   9,   // giga
	"meg": 6,   // mega
	"k":   3,   // kilo
	"mil": -6,  // thousandth of an inch, times 25.4
	"m":   -3,  // milli
	"u":   -6,  // micro
	"n":   -9,  // nano
	"p":   -12, // pico
	"f":   -15, // femto
}

var (
	valueRe   = regexp.MustCompile(`^([-+]?(?:\d+\.?\d*|\.\d+))(?:e([-+]?\d+))?(meg|mil|[tgkmunpf])?[a-z]*$`)
	spacesRe  = regexp.MustCompile(`\s+`)
	nodeValRe = regexp.MustCompile(`(?i)v\(\s*([^)\s]+)\s*\)\s*=\s*(\S+)`)
)

func Parse(input string) (*NetlistData, error) {
	scanner := bufio.NewScanner(strings.NewReader(input))
	netlistData := &NetlistData{
		Nodes:    make(map[string]int),
		Models:   make(map[string]device.ModelParam),
		NodeSets: make(map[string]float64),
		ICs:      make(map[string]float64),
	}

	// Title or comment
	if scanner.Scan() {
		netlistData.Title = strings.TrimPrefix(scanner.Text(), "*")
		netlistData.Title = strings.TrimSpace(netlistData.Title)
	}

	var currentLine string
	lineNo, startNo := 1, 1
	flush := func() error {
		if currentLine == "" {
			return nil
		}
		err := parseLine(netlistData, currentLine)
		currentLine = ""
		if err != nil {
			return fmt.Errorf("line %d: %w", startNo, err)
		}
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		// Full line comment
		if strings.HasPrefix(line, "*") {
			continue
		}
		// Inline comment
		if idx := strings.IndexAny(line, ";$"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if len(line) == 0 {
			continue
		}

		if strings.HasPrefix(line, "+") {
			if currentLine == "" {
				return nil, fmt.Errorf("line %d: continuation without a preceding card", lineNo)
			}
			currentLine += " " + strings.TrimSpace(line[1:])
			continue
		}

		if strings.EqualFold(line, ".end") {
			break
		}
		if err := flush(); err != nil {
			return nil, err
		}
		currentLine, startNo = line, lineNo
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return netlistData, nil
}

func parseLine(netlistData *NetlistData, line string) error {
	line = spacesRe.ReplaceAllString(line, " ")

	if strings.HasPrefix(line, ".") {
		return parseDotOperator(netlistData, line)
	}

	element, err := parseElement(line)
	if err != nil {
		return err
	}

	netlistData.Elements = append(netlistData.Elements, *element)
	for _, node := range element.Nodes {
		if _, exists := netlistData.Nodes[node]; !exists {
			netlistData.Nodes[node] = len(netlistData.Nodes)
		}
	}
	return nil
}

// Parse .op, .tran, .ac, .dc, .model, .options, .nodeset, .ic
func parseDotOperator(netlistData *NetlistData, line string) error {
	var err error

	fields := strings.Fields(line)
	if len(fields) < 1 {
		return fmt.Errorf("invalid analysis command")
	}

	switch strings.ToLower(fields[0]) {
	case ".model":
		return parseModel(netlistData, fields[1:])

	case ".options", ".option", ".opt":
		return parseOptions(netlistData, fields[1:])

	case ".nodeset":
		return parseNodeValues(netlistData.NodeSets, line)

	case ".ic":
		return parseNodeValues(netlistData.ICs, line)

	case ".op":
		netlistData.Analysis = AnalysisOP

	case ".tran":
		netlistData.Analysis = AnalysisTRAN
		if len(fields) < 3 {
			return fmt.Errorf("insufficient tran parameters, need at least tstep and tstop")
		}
		tp := &netlistData.TranParam
		if tp.TStep, err = ParseValue(fields[1]); err != nil {
			return fmt.Errorf("invalid tstep: %w", err)
		}
		if tp.TStop, err = ParseValue(fields[2]); err != nil {
			return fmt.Errorf("invalid tstop: %w", err)
		}

		pos := 0
		for _, f := range fields[3:] {
			if strings.EqualFold(f, "uic") {
				tp.UIC = true
				continue
			}
			v, err := ParseValue(f)
			if err != nil {
				return fmt.Errorf("invalid tran parameter %q: %w", f, err)
			}
			switch pos {
			case 0:
				tp.TStart = v
			case 1:
				tp.TMax = v
			default:
				return fmt.Errorf("too many tran parameters")
			}
			pos++
		}

	case ".ac":
		netlistData.Analysis = AnalysisAC
		if len(fields) < 5 {
			return fmt.Errorf("insufficient AC parameters, need sweep type, points, fstart, and fstop")
		}
		ap := &netlistData.ACParam

		// DEC, OCT, LIN
		ap.Sweep = strings.ToUpper(fields[1])
		if ap.Sweep != "DEC" && ap.Sweep != "OCT" && ap.Sweep != "LIN" {
			return fmt.Errorf("invalid sweep type: %s", ap.Sweep)
		}
		if ap.Points, err = strconv.Atoi(fields[2]); err != nil {
			return fmt.Errorf("invalid points number: %w", err)
		}
		if ap.FStart, err = ParseValue(fields[3]); err != nil {
			return fmt.Errorf("invalid fstart: %w", err)
		}
		if ap.FStop, err = ParseValue(fields[4]); err != nil {
			return fmt.Errorf("invalid fstop: %w", err)
		}

	case ".dc":
		netlistData.Analysis = AnalysisDC
		args := fields[1:]
		if len(args) != 4 && len(args) != 8 {
			return fmt.Errorf("dc sweep needs 4 parameters per source, got %d", len(args))
		}
		dp := &netlistData.DCParam
		for len(args) > 0 {
			vals := make([]float64, 3)
			for i, f := range args[1:4] {
				if vals[i], err = ParseValue(f); err != nil {
					return fmt.Errorf("invalid sweep value for %s: %w", args[0], err)
				}
			}
			dp.Sources = append(dp.Sources, args[0])
			dp.Starts = append(dp.Starts, vals[0])
			dp.Stops = append(dp.Stops, vals[1])
			dp.Increments = append(dp.Increments, vals[2])
			args = args[4:]
		}

	default:
		return fmt.Errorf("unsupported control card: %s", fields[0])
	}

	return nil
}

func parseOptions(netlistData *NetlistData, fields []string) error {
	// "reltol = 1e-4" and "reltol=1e-4" are both accepted
	joined := strings.Join(fields, " ")
	joined = strings.ReplaceAll(joined, " =", "=")
	joined = strings.ReplaceAll(joined, "= ", "=")
	for _, f := range strings.Fields(joined) {
		name, value, _ := strings.Cut(f, "=")
		if name == "" {
			return fmt.Errorf("invalid option %q", f)
		}
		netlistData.Options = append(netlistData.Options, Option{Name: strings.ToLower(name), Value: value})
	}
	return nil
}

func parseNodeValues(dst map[string]float64, line string) error {
	matches := nodeValRe.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return fmt.Errorf("expected v(node)=value pairs: %s", line)
	}
	for _, m := range matches {
		v, err := ParseValue(m[2])
		if err != nil {
			return fmt.Errorf("invalid value for node %s: %w", m[1], err)
		}
		dst[m[1]] = v
	}
	return nil
}

func parseModel(netlistData *NetlistData, fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("insufficient model parameters")
	}
	modelName := fields[0]

	// "D(is=1e-14", "D (is=1e-14 ...)" and "D is=1e-14" are all valid
	rest := strings.Join(fields[1:], " ")
	rest = strings.NewReplacer("(", " ", ")", " ").Replace(rest)
	rest = strings.ReplaceAll(rest, " =", "=")
	rest = strings.ReplaceAll(rest, "= ", "=")
	words := strings.Fields(rest)
	modelType := strings.ToUpper(words[0])

	if modelType != "D" {
		return fmt.Errorf("unsupported model type: %s", modelType)
	}

	params := make(map[string]float64)
	for _, pair := range words[1:] {
		name, val, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("model %s: expected name=value, got %q", modelName, pair)
		}
		value, err := ParseValue(val)
		if err != nil {
			return fmt.Errorf("invalid parameter value %s: %w", pair, err)
		}
		params[strings.ToLower(name)] = value
	}

	netlistData.Models[strings.ToLower(modelName)] = device.ModelParam{
		Type:   modelType,
		Name:   modelName,
		Params: params,
	}
	return nil
}

// Parse circuit element
func parseElement(line string) (*Element, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return nil, fmt.Errorf("invalid element format: %s", line)
	}

	elem := &Element{
		Name:   fields[0],
		Type:   strings.ToUpper(fields[0][:1]),
		Params: make(map[string]float64),
	}

	switch elem.Type {
	case "V", "I":
		return parseSource(elem, fields)

	case "K": // Mutual inductance
		if len(fields) < 4 {
			return nil, fmt.Errorf("insufficient mutual coupling parameters: need coupling name, inductors and coefficient")
		}
		coefficient, err := ParseValue(fields[len(fields)-1])
		if err != nil {
			return nil, fmt.Errorf("invalid coupling coefficient: %w", err)
		}
		elem.Refs = fields[1 : len(fields)-1]
		elem.Value = coefficient
		return elem, nil

	case "D":
		elem.Nodes = fields[1:3]
		rest := fields[3:]
		if len(rest) > 0 && !strings.Contains(rest[0], "=") && !isNumber(rest[0]) && !strings.EqualFold(rest[0], "off") {
			elem.Model = rest[0]
			rest = rest[1:]
		}
		for _, f := range rest {
			if strings.EqualFold(f, "off") {
				elem.Params["off"] = 1
				continue
			}
			if isNumber(f) {
				elem.Params["area"], _ = ParseValue(f)
				continue
			}
			if err := parseParam(elem, f); err != nil {
				return nil, err
			}
		}
		return elem, nil

	case "R", "C", "L":
		if len(fields) < 4 {
			return nil, fmt.Errorf("%s: missing value", elem.Name)
		}
		elem.Nodes = fields[1:3]
		value, err := ParseValue(fields[3])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", elem.Name, err)
		}
		elem.Value = value
		for _, f := range fields[4:] {
			if err := parseParam(elem, f); err != nil {
				return nil, err
			}
		}
		return elem, nil

	default:
		return nil, fmt.Errorf("unsupported element type %s in %s", elem.Type, elem.Name)
	}
}

func parseParam(elem *Element, field string) error {
	name, val, ok := strings.Cut(field, "=")
	if !ok {
		return fmt.Errorf("%s: unexpected field %q", elem.Name, field)
	}
	v, err := ParseValue(val)
	if err != nil {
		return fmt.Errorf("%s: parameter %s: %w", elem.Name, name, err)
	}
	elem.Params[strings.ToLower(name)] = v
	return nil
}

// parseSource reads "[DC] v", "AC mag [phase]" and one SIN/PULSE/PWL
// transient function in any order.
func parseSource(elem *Element, fields []string) (*Element, error) {
	if len(fields) < 4 {
		return nil, fmt.Errorf("insufficient %s source parameters", elem.Type)
	}
	elem.Nodes = []string{fields[1], fields[2]}
	elem.Wave = device.DCWave(0)

	remaining := strings.Join(fields[3:], " ")
	remaining = strings.ReplaceAll(remaining, "(", " ( ") // Append whitespace around parentheses
	remaining = strings.ReplaceAll(remaining, ")", " ) ")
	words := strings.Fields(remaining)

	var dc float64
	var err error
	for i := 0; i < len(words); i++ {
		word := strings.ToUpper(words[i])
		switch word {
		case "DC":
			if i+1 >= len(words) {
				return nil, fmt.Errorf("%s: missing DC value", elem.Name)
			}
			i++
			if dc, err = ParseValue(words[i]); err != nil {
				return nil, fmt.Errorf("%s: %w", elem.Name, err)
			}

		case "AC":
			if i+1 >= len(words) {
				return nil, fmt.Errorf("%s: missing AC magnitude", elem.Name)
			}
			i++
			if elem.ACMag, err = ParseValue(words[i]); err != nil {
				return nil, fmt.Errorf("%s: invalid AC magnitude: %w", elem.Name, err)
			}
			if i+1 < len(words) && isNumber(words[i+1]) {
				i++
				elem.ACPhase, _ = ParseValue(words[i])
			}

		case "SIN", "PULSE", "PWL":
			args, next, err := groupArgs(words, i+1)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", elem.Name, err)
			}
			i = next
			if elem.Wave, err = parseWave(word, args); err != nil {
				return nil, fmt.Errorf("%s: %w", elem.Name, err)
			}

		default:
			if dc, err = ParseValue(words[i]); err != nil {
				return nil, fmt.Errorf("%s: unsupported source field %q", elem.Name, words[i])
			}
		}
	}

	if elem.Wave.Type == device.DC {
		elem.Wave = device.DCWave(dc)
	}
	elem.Value = elem.Wave.DCValue()
	return elem, nil
}

// groupArgs collects the words of a parenthesised (or bare) argument list
// starting at words[i] and returns the index of its last word.
func groupArgs(words []string, i int) ([]string, int, error) {
	if i < len(words) && words[i] == "(" {
		for j := i + 1; j < len(words); j++ {
			if words[j] == ")" {
				return words[i+1 : j], j, nil
			}
		}
		return nil, 0, fmt.Errorf("unbalanced parentheses")
	}
	j := i
	for j < len(words) && isNumber(words[j]) {
		j++
	}
	return words[i:j], j - 1, nil
}

func parseWave(kind string, args []string) (device.Waveform, error) {
	vals := make([]float64, len(args))
	for i, a := range args {
		v, err := ParseValue(a)
		if err != nil {
			return device.Waveform{}, fmt.Errorf("invalid %s parameter %d: %w", kind, i+1, err)
		}
		vals[i] = v
	}

	switch kind {
	case "SIN":
		if len(vals) < 3 {
			return device.Waveform{}, fmt.Errorf("insufficient SIN parameters")
		}
		phase := 0.0
		if len(vals) > 3 {
			phase = vals[3]
		}
		return device.SinWave(vals[0], vals[1], vals[2], phase), nil

	case "PULSE":
		if len(vals) < 7 {
			return device.Waveform{}, fmt.Errorf("insufficient PULSE parameters")
		}
		return device.PulseWave(vals[0], vals[1], vals[2], vals[3], vals[4], vals[5], vals[6]), nil

	default:
		if len(vals) < 4 || len(vals)%2 != 0 {
			return device.Waveform{}, fmt.Errorf("insufficient or invalid PWL parameters, need pairs of time-value")
		}
		n := len(vals) / 2
		times, values := make([]float64, n), make([]float64, n)
		for i := range n {
			times[i], values[i] = vals[2*i], vals[2*i+1]
		}
		return device.PWLWave(times, values)
	}
}

func isNumber(s string) bool {
	_, err := ParseValue(s)
	return err == nil
}

// ParseValue - Parse value and factor. 1k -> 1000, 2.2uF -> 2.2e-6
func ParseValue(val string) (float64, error) {
	matches := valueRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(val)))
	if matches == nil {
		return 0, fmt.Errorf("invalid value format: %s", val)
	}

	exp := 0
	if matches[2] != "" {
		e, err := strconv.Atoi(matches[2])
		if err != nil {
			return 0, fmt.Errorf("invalid exponent in %s: %w", val, err)
		}
		exp = e
	}
	exp += unitMap[matches[3]]

	num, err := strconv.ParseFloat(matches[1]+"e"+strconv.Itoa(exp), 64)
	if err != nil {
		return 0, err
	}
	if matches[3] == "mil" {
		num *= 25.4
	}
	return num, nil
}
