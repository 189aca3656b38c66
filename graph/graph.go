// Package graph defines the well-known PackStream structures a Bolt server
// sends back for graph values: nodes, relationships, paths, temporal
// values, and spatial points (spec.md §6, "Well-known structure tags").
//
// Each type decodes from a Structure via a Factory registered with
// RegisterBuiltins, and encodes itself back the same way via
// MarshalPackStream, so the types satisfy packstream.Marshaler even though
// the driver never has occasion to send one to the server.
package graph

import "github.com/neobolt/driver/packstream"

// Structure tags, spec.md §6.
const (
	TagNode                  byte = 0x4E
	TagRelationship          byte = 0x52
	TagUnboundRelationship   byte = 0x72
	TagPath                  byte = 0x50
	TagDate                  byte = 0x44
	TagTime                  byte = 0x54
	TagLocalTime             byte = 0x74
	TagDateTime              byte = 0x49
	TagDateTimeZoneID        byte = 0x69
	TagLocalDateTime         byte = 0x64
	TagLegacyDateTime        byte = 0x46
	TagLegacyDateTimeZoneID  byte = 0x66
	TagDuration              byte = 0x45
	TagPoint2D               byte = 0x58
	TagPoint3D               byte = 0x59
)

// Node is a labeled, property-carrying graph vertex. ElementID is empty
// when the server sent the pre-v5, 3-field form (spec.md §6: "determined
// by the arrived field count, not a separate flag").
type Node struct {
	ID        int64
	Labels    []string
	Props     map[string]any
	ElementID string
}

func nodeFactory(fields []any) (any, error) {
	if len(fields) != 3 && len(fields) != 4 {
		return nil, fieldCountErr("Node", len(fields), 3, 4)
	}
	id, err := asInt64(fields[0], "Node.id")
	if err != nil {
		return nil, err
	}
	labels, err := asStringList(fields[1], "Node.labels")
	if err != nil {
		return nil, err
	}
	props, err := asDict(fields[2], "Node.props")
	if err != nil {
		return nil, err
	}
	n := Node{ID: id, Labels: labels, Props: props}
	if len(fields) == 4 {
		n.ElementID, err = asString(fields[3], "Node.elementId")
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}

// MarshalPackStream implements packstream.Marshaler.
func (n Node) MarshalPackStream() (byte, []any, error) {
	fields := []any{n.ID, stringsToAny(n.Labels), dictToAny(n.Props)}
	if n.ElementID != "" {
		fields = append(fields, n.ElementID)
	}
	return TagNode, fields, nil
}

// Relationship is a directed, typed edge between two nodes already
// materialized with their own IDs (as opposed to UnboundRelationship,
// which appears inside a Path and carries no endpoint IDs).
type Relationship struct {
	ID                int64
	StartID           int64
	EndID             int64
	Type              string
	Props             map[string]any
	ElementID         string
	StartElementID    string
	EndElementID      string
}

func relationshipFactory(fields []any) (any, error) {
	if len(fields) != 5 && len(fields) != 8 {
		return nil, fieldCountErr("Relationship", len(fields), 5, 8)
	}
	id, err := asInt64(fields[0], "Relationship.id")
	if err != nil {
		return nil, err
	}
	startID, err := asInt64(fields[1], "Relationship.startId")
	if err != nil {
		return nil, err
	}
	endID, err := asInt64(fields[2], "Relationship.endId")
	if err != nil {
		return nil, err
	}
	typ, err := asString(fields[3], "Relationship.type")
	if err != nil {
		return nil, err
	}
	props, err := asDict(fields[4], "Relationship.props")
	if err != nil {
		return nil, err
	}
	r := Relationship{ID: id, StartID: startID, EndID: endID, Type: typ, Props: props}
	if len(fields) == 8 {
		if r.ElementID, err = asString(fields[5], "Relationship.elementId"); err != nil {
			return nil, err
		}
		if r.StartElementID, err = asString(fields[6], "Relationship.startElementId"); err != nil {
			return nil, err
		}
		if r.EndElementID, err = asString(fields[7], "Relationship.endElementId"); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MarshalPackStream implements packstream.Marshaler.
func (r Relationship) MarshalPackStream() (byte, []any, error) {
	fields := []any{r.ID, r.StartID, r.EndID, r.Type, dictToAny(r.Props)}
	if r.ElementID != "" {
		fields = append(fields, r.ElementID, r.StartElementID, r.EndElementID)
	}
	return TagRelationship, fields, nil
}

// UnboundRelationship is a relationship as it appears inside a Path: typed
// and propertied, but without its own endpoint node IDs (those come from
// the Path's traversal).
type UnboundRelationship struct {
	ID        int64
	Type      string
	Props     map[string]any
	ElementID string
}

func unboundRelationshipFactory(fields []any) (any, error) {
	if len(fields) != 3 && len(fields) != 4 {
		return nil, fieldCountErr("UnboundRelationship", len(fields), 3, 4)
	}
	id, err := asInt64(fields[0], "UnboundRelationship.id")
	if err != nil {
		return nil, err
	}
	typ, err := asString(fields[1], "UnboundRelationship.type")
	if err != nil {
		return nil, err
	}
	props, err := asDict(fields[2], "UnboundRelationship.props")
	if err != nil {
		return nil, err
	}
	u := UnboundRelationship{ID: id, Type: typ, Props: props}
	if len(fields) == 4 {
		if u.ElementID, err = asString(fields[3], "UnboundRelationship.elementId"); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// MarshalPackStream implements packstream.Marshaler.
func (u UnboundRelationship) MarshalPackStream() (byte, []any, error) {
	fields := []any{u.ID, u.Type, dictToAny(u.Props)}
	if u.ElementID != "" {
		fields = append(fields, u.ElementID)
	}
	return TagUnboundRelationship, fields, nil
}

// Path is a sequence of nodes connected by relationships, encoded as three
// parallel vectors (spec.md §9, "Cyclic references in graphs"): the full
// node list, the full unbound-relationship list, and an index sequence
// describing how to thread them together. Resolve turns that threading into
// Segments on demand, without back-pointers between nodes and relationships.
type Path struct {
	Nodes   []Node
	Rels    []UnboundRelationship
	Indices []int64
}

func pathFactory(fields []any) (any, error) {
	if len(fields) != 3 {
		return nil, fieldCountErr("Path", len(fields), 3, 3)
	}
	nodesAny, ok := fields[0].([]any)
	if !ok {
		return nil, fieldTypeErr("Path.nodes", "list", fields[0])
	}
	nodes := make([]Node, len(nodesAny))
	for i, v := range nodesAny {
		n, ok := v.(Node)
		if !ok {
			return nil, fieldTypeErr("Path.nodes[i]", "Node", v)
		}
		nodes[i] = n
	}

	relsAny, ok := fields[1].([]any)
	if !ok {
		return nil, fieldTypeErr("Path.rels", "list", fields[1])
	}
	rels := make([]UnboundRelationship, len(relsAny))
	for i, v := range relsAny {
		r, ok := v.(UnboundRelationship)
		if !ok {
			return nil, fieldTypeErr("Path.rels[i]", "UnboundRelationship", v)
		}
		rels[i] = r
	}

	indicesAny, ok := fields[2].([]any)
	if !ok {
		return nil, fieldTypeErr("Path.indices", "list", fields[2])
	}
	indices := make([]int64, len(indicesAny))
	for i, v := range indicesAny {
		n, err := asInt64(v, "Path.indices[i]")
		if err != nil {
			return nil, err
		}
		indices[i] = n
	}

	return Path{Nodes: nodes, Rels: rels, Indices: indices}, nil
}

// MarshalPackStream implements packstream.Marshaler.
func (p Path) MarshalPackStream() (byte, []any, error) {
	nodes := make([]any, len(p.Nodes))
	for i, n := range p.Nodes {
		nodes[i] = n
	}
	rels := make([]any, len(p.Rels))
	for i, r := range p.Rels {
		rels[i] = r
	}
	indices := make([]any, len(p.Indices))
	for i, idx := range p.Indices {
		indices[i] = idx
	}
	return TagPath, []any{nodes, rels, indices}, nil
}

// Segment is one hop of a resolved Path.
type Segment struct {
	Start    Node
	Rel      UnboundRelationship
	End      Node
	Reversed bool
}

// Resolve walks Indices and returns the path as an ordered sequence of
// segments. Indices alternates relationship-index, node-index pairs; a
// negative relationship index means the relationship was traversed in
// reverse (spec.md §9).
func (p Path) Resolve() []Segment {
	if len(p.Nodes) == 0 {
		return nil
	}
	segments := make([]Segment, 0, len(p.Indices)/2)
	prev := p.Nodes[0]
	for i := 0; i+1 < len(p.Indices); i += 2 {
		relIdx := p.Indices[i]
		nodeIdx := p.Indices[i+1]
		reversed := relIdx < 0
		idx := relIdx
		if reversed {
			idx = -idx
		}
		rel := p.Rels[idx-1]
		next := p.Nodes[nodeIdx]
		segments = append(segments, Segment{Start: prev, Rel: rel, End: next, Reversed: reversed})
		prev = next
	}
	return segments
}

// Date is a count of days since the Unix epoch.
type Date struct{ EpochDays int64 }

func dateFactory(fields []any) (any, error) {
	if len(fields) != 1 {
		return nil, fieldCountErr("Date", len(fields), 1, 1)
	}
	d, err := asInt64(fields[0], "Date.epochDays")
	if err != nil {
		return nil, err
	}
	return Date{EpochDays: d}, nil
}

func (d Date) MarshalPackStream() (byte, []any, error) {
	return TagDate, []any{d.EpochDays}, nil
}

// Time is a wall-clock time of day with a UTC offset, no date component.
type Time struct {
	NanosSinceMidnight int64
	TZOffsetSeconds     int64
}

func timeFactory(fields []any) (any, error) {
	if len(fields) != 2 {
		return nil, fieldCountErr("Time", len(fields), 2, 2)
	}
	n, err := asInt64(fields[0], "Time.nanoOfDay")
	if err != nil {
		return nil, err
	}
	off, err := asInt64(fields[1], "Time.tzOffsetSeconds")
	if err != nil {
		return nil, err
	}
	return Time{NanosSinceMidnight: n, TZOffsetSeconds: off}, nil
}

func (t Time) MarshalPackStream() (byte, []any, error) {
	return TagTime, []any{t.NanosSinceMidnight, t.TZOffsetSeconds}, nil
}

// LocalTime is a wall-clock time of day with no timezone.
type LocalTime struct{ NanosSinceMidnight int64 }

func localTimeFactory(fields []any) (any, error) {
	if len(fields) != 1 {
		return nil, fieldCountErr("LocalTime", len(fields), 1, 1)
	}
	n, err := asInt64(fields[0], "LocalTime.nanoOfDay")
	if err != nil {
		return nil, err
	}
	return LocalTime{NanosSinceMidnight: n}, nil
}

func (t LocalTime) MarshalPackStream() (byte, []any, error) {
	return TagLocalTime, []any{t.NanosSinceMidnight}, nil
}

// DateTime is a UTC instant plus the originating timezone's fixed offset
// (Bolt v5's UTC-based encoding, as opposed to LegacyDateTime).
type DateTime struct {
	EpochSeconds    int64
	Nanos           int64
	TZOffsetSeconds int64
}

func dateTimeFactory(fields []any) (any, error) {
	s, n, off, err := threeInts("DateTime", fields)
	if err != nil {
		return nil, err
	}
	return DateTime{EpochSeconds: s, Nanos: n, TZOffsetSeconds: off}, nil
}

func (d DateTime) MarshalPackStream() (byte, []any, error) {
	return TagDateTime, []any{d.EpochSeconds, d.Nanos, d.TZOffsetSeconds}, nil
}

// DateTimeZoneID is a UTC instant plus a named timezone (e.g. "Europe/Paris").
type DateTimeZoneID struct {
	EpochSeconds int64
	Nanos        int64
	ZoneID       string
}

func dateTimeZoneIDFactory(fields []any) (any, error) {
	if len(fields) != 3 {
		return nil, fieldCountErr("DateTimeZoneId", len(fields), 3, 3)
	}
	s, err := asInt64(fields[0], "DateTimeZoneId.seconds")
	if err != nil {
		return nil, err
	}
	n, err := asInt64(fields[1], "DateTimeZoneId.nanoseconds")
	if err != nil {
		return nil, err
	}
	zone, err := asString(fields[2], "DateTimeZoneId.zoneId")
	if err != nil {
		return nil, err
	}
	return DateTimeZoneID{EpochSeconds: s, Nanos: n, ZoneID: zone}, nil
}

func (d DateTimeZoneID) MarshalPackStream() (byte, []any, error) {
	return TagDateTimeZoneID, []any{d.EpochSeconds, d.Nanos, d.ZoneID}, nil
}

// LocalDateTime is a date+time with no timezone.
type LocalDateTime struct {
	EpochSeconds int64
	Nanos        int64
}

func localDateTimeFactory(fields []any) (any, error) {
	if len(fields) != 2 {
		return nil, fieldCountErr("LocalDateTime", len(fields), 2, 2)
	}
	s, err := asInt64(fields[0], "LocalDateTime.seconds")
	if err != nil {
		return nil, err
	}
	n, err := asInt64(fields[1], "LocalDateTime.nanoseconds")
	if err != nil {
		return nil, err
	}
	return LocalDateTime{EpochSeconds: s, Nanos: n}, nil
}

func (d LocalDateTime) MarshalPackStream() (byte, []any, error) {
	return TagLocalDateTime, []any{d.EpochSeconds, d.Nanos}, nil
}

// LegacyDateTime is the pre-v5 local-instant-plus-offset encoding, kept
// distinct from DateTime because its seconds field is local, not UTC.
type LegacyDateTime struct {
	LocalSeconds    int64
	Nanos           int64
	TZOffsetSeconds int64
}

func legacyDateTimeFactory(fields []any) (any, error) {
	s, n, off, err := threeInts("LegacyDateTime", fields)
	if err != nil {
		return nil, err
	}
	return LegacyDateTime{LocalSeconds: s, Nanos: n, TZOffsetSeconds: off}, nil
}

func (d LegacyDateTime) MarshalPackStream() (byte, []any, error) {
	return TagLegacyDateTime, []any{d.LocalSeconds, d.Nanos, d.TZOffsetSeconds}, nil
}

// LegacyDateTimeZoneID is LegacyDateTime's named-timezone counterpart.
type LegacyDateTimeZoneID struct {
	LocalSeconds int64
	Nanos        int64
	ZoneID       string
}

func legacyDateTimeZoneIDFactory(fields []any) (any, error) {
	if len(fields) != 3 {
		return nil, fieldCountErr("LegacyDateTimeZoneId", len(fields), 3, 3)
	}
	s, err := asInt64(fields[0], "LegacyDateTimeZoneId.seconds")
	if err != nil {
		return nil, err
	}
	n, err := asInt64(fields[1], "LegacyDateTimeZoneId.nanoseconds")
	if err != nil {
		return nil, err
	}
	zone, err := asString(fields[2], "LegacyDateTimeZoneId.zoneId")
	if err != nil {
		return nil, err
	}
	return LegacyDateTimeZoneID{LocalSeconds: s, Nanos: n, ZoneID: zone}, nil
}

func (d LegacyDateTimeZoneID) MarshalPackStream() (byte, []any, error) {
	return TagLegacyDateTimeZoneID, []any{d.LocalSeconds, d.Nanos, d.ZoneID}, nil
}

// Duration is a calendar-aware interval: months and days are kept separate
// from seconds/nanoseconds because they have no fixed length.
type Duration struct {
	Months  int64
	Days    int64
	Seconds int64
	Nanos   int64
}

func durationFactory(fields []any) (any, error) {
	if len(fields) != 4 {
		return nil, fieldCountErr("Duration", len(fields), 4, 4)
	}
	months, err := asInt64(fields[0], "Duration.months")
	if err != nil {
		return nil, err
	}
	days, err := asInt64(fields[1], "Duration.days")
	if err != nil {
		return nil, err
	}
	seconds, err := asInt64(fields[2], "Duration.seconds")
	if err != nil {
		return nil, err
	}
	nanos, err := asInt64(fields[3], "Duration.nanoseconds")
	if err != nil {
		return nil, err
	}
	return Duration{Months: months, Days: days, Seconds: seconds, Nanos: nanos}, nil
}

func (d Duration) MarshalPackStream() (byte, []any, error) {
	return TagDuration, []any{d.Months, d.Days, d.Seconds, d.Nanos}, nil
}

// Point2D is a planar point tagged with a spatial reference system ID.
type Point2D struct {
	SRID int64
	X, Y float64
}

func point2DFactory(fields []any) (any, error) {
	if len(fields) != 3 {
		return nil, fieldCountErr("Point2D", len(fields), 3, 3)
	}
	srid, err := asInt64(fields[0], "Point2D.srid")
	if err != nil {
		return nil, err
	}
	x, err := asFloat64(fields[1], "Point2D.x")
	if err != nil {
		return nil, err
	}
	y, err := asFloat64(fields[2], "Point2D.y")
	if err != nil {
		return nil, err
	}
	return Point2D{SRID: srid, X: x, Y: y}, nil
}

func (p Point2D) MarshalPackStream() (byte, []any, error) {
	return TagPoint2D, []any{p.SRID, p.X, p.Y}, nil
}

// Point3D is a spatial point in three dimensions.
type Point3D struct {
	SRID    int64
	X, Y, Z float64
}

func point3DFactory(fields []any) (any, error) {
	if len(fields) != 4 {
		return nil, fieldCountErr("Point3D", len(fields), 4, 4)
	}
	srid, err := asInt64(fields[0], "Point3D.srid")
	if err != nil {
		return nil, err
	}
	x, err := asFloat64(fields[1], "Point3D.x")
	if err != nil {
		return nil, err
	}
	y, err := asFloat64(fields[2], "Point3D.y")
	if err != nil {
		return nil, err
	}
	z, err := asFloat64(fields[3], "Point3D.z")
	if err != nil {
		return nil, err
	}
	return Point3D{SRID: srid, X: x, Y: y, Z: z}, nil
}

func (p Point3D) MarshalPackStream() (byte, []any, error) {
	return TagPoint3D, []any{p.SRID, p.X, p.Y, p.Z}, nil
}

func threeInts(name string, fields []any) (int64, int64, int64, error) {
	if len(fields) != 3 {
		return 0, 0, 0, fieldCountErr(name, len(fields), 3, 3)
	}
	a, err := asInt64(fields[0], name+".seconds")
	if err != nil {
		return 0, 0, 0, err
	}
	b, err := asInt64(fields[1], name+".nanoseconds")
	if err != nil {
		return 0, 0, 0, err
	}
	c, err := asInt64(fields[2], name+".tzOffsetSeconds")
	if err != nil {
		return 0, 0, 0, err
	}
	return a, b, c, nil
}

// RegisterBuiltins registers every well-known structure type's decode
// factory on reg. The driver must call this before opening its first
// connection (spec.md §4.1, §9).
func RegisterBuiltins(reg *packstream.Registry) error {
	factories := map[byte]packstream.Factory{
		TagNode:                 nodeFactory,
		TagRelationship:         relationshipFactory,
		TagUnboundRelationship:  unboundRelationshipFactory,
		TagPath:                 pathFactory,
		TagDate:                 dateFactory,
		TagTime:                 timeFactory,
		TagLocalTime:            localTimeFactory,
		TagDateTime:             dateTimeFactory,
		TagDateTimeZoneID:       dateTimeZoneIDFactory,
		TagLocalDateTime:        localDateTimeFactory,
		TagLegacyDateTime:       legacyDateTimeFactory,
		TagLegacyDateTimeZoneID: legacyDateTimeZoneIDFactory,
		TagDuration:             durationFactory,
		TagPoint2D:              point2DFactory,
		TagPoint3D:              point3DFactory,
	}
	for tag, factory := range factories {
		if err := reg.Register(tag, factory); err != nil {
			return err
		}
	}
	return nil
}
