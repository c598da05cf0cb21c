package model

// FieldSet is a bit set of task fields.
type FieldSet uint16

const (
	FieldTitle FieldSet = 1 << iota
	FieldStatus
	FieldPriority
	FieldCategory
	FieldDone
	FieldProject
	FieldAreas
	FieldParentTask
	FieldDoDate
	FieldDueDate

	AllFields = FieldTitle | FieldStatus | FieldPriority | FieldCategory | FieldDone |
		FieldProject | FieldAreas | FieldParentTask | FieldDoDate | FieldDueDate
)

// Has reports whether every field of o is in s.
func (s FieldSet) Has(o FieldSet) bool { return s&o == o }

// Mask returns the fields the view carries. A zero Carries means the view is complete.
func (v FieldView) Mask() FieldSet {
	if v.Carries == 0 {
		return AllFields
	}
	return v.Carries
}

// Apply copies the fields of src selected by mask onto base, zero values included.
func Apply(base, src Fields, mask FieldSet) Fields {
	out := base.Clone()
	src = src.Clone()
	if mask.Has(FieldTitle) {
		out.Title = src.Title
	}
	if mask.Has(FieldStatus) {
		out.Status = src.Status
	}
	if mask.Has(FieldPriority) {
		out.Priority = src.Priority
	}
	if mask.Has(FieldCategory) {
		out.Category = src.Category
	}
	if mask.Has(FieldDone) {
		out.Done = src.Done
	}
	if mask.Has(FieldProject) {
		out.Project = src.Project
	}
	if mask.Has(FieldAreas) {
		out.Areas = src.Areas
	}
	if mask.Has(FieldParentTask) {
		out.ParentTask = src.ParentTask
	}
	if mask.Has(FieldDoDate) {
		out.DoDate = src.DoDate
	}
	if mask.Has(FieldDueDate) {
		out.DueDate = src.DueDate
	}
	return out
}

// FieldsEqualIn compares only the fields selected by mask.
func FieldsEqualIn(a, b Fields, mask FieldSet) bool {
	var zero Fields
	return FieldsEqual(Apply(zero, a, mask), Apply(zero, b, mask))
}
