package frame

// CFI instruction opcodes, DWARF5 section 6.4.2.
const (
	DW_CFA_nop                = 0x0
	DW_CFA_set_loc            = 0x01
	DW_CFA_advance_loc1       = 0x02
	DW_CFA_advance_loc2       = 0x03
	DW_CFA_advance_loc4       = 0x04
	DW_CFA_offset_extended    = 0x05
	DW_CFA_restore_extended   = 0x06
	DW_CFA_undefined          = 0x07
	DW_CFA_same_value         = 0x08
	DW_CFA_register           = 0x09
	DW_CFA_remember_state     = 0x0a
	DW_CFA_restore_state      = 0x0b
	DW_CFA_def_cfa            = 0x0c
	DW_CFA_def_cfa_register   = 0x0d
	DW_CFA_def_cfa_offset     = 0x0e
	DW_CFA_def_cfa_expression = 0x0f
	DW_CFA_expression         = 0x10
	DW_CFA_offset_extended_sf = 0x11
	DW_CFA_def_cfa_sf         = 0x12
	DW_CFA_def_cfa_offset_sf  = 0x13
	DW_CFA_val_offset         = 0x14
	DW_CFA_val_offset_sf      = 0x15
	DW_CFA_val_expression     = 0x16

	// GNU extensions.
	DW_CFA_GNU_args_size              = 0x2e
	DW_CFA_GNU_negative_offset_extended = 0x2f

	DW_CFA_lo_user = 0x1c
	DW_CFA_hi_user = 0x3f

	DW_CFA_advance_loc = 0x1 << 6 // high 2 bits 0x1, low 6 bits: delta
	DW_CFA_offset      = 0x2 << 6 // high 2 bits 0x2, low 6 bits: register
	DW_CFA_restore     = 0x3 << 6 // high 2 bits 0x3, low 6 bits: register
)

// Rule identifies which kind of register-location record a DWRule
// carries.
type Rule byte

const (
	RuleUndefined Rule = iota
	RuleSameValue
	RuleOffset
	RuleValOffset
	RuleRegister
	RuleExpression
	RuleValExpression
	RuleCFA // only valid on the CFA slot: value is Reg+Offset
)

const low6Mask = 0x3f
