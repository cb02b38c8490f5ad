package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden        ErrCode = "FORBIDDEN"
	ErrPermissionDenied ErrCode = "PERMISSION_DENIED"
	ErrNotAttemptOwner  ErrCode = "NOT_ATTEMPT_OWNER"
	ErrNotEligible      ErrCode = "NOT_ELIGIBLE"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrAttemptNotFound ErrCode = "ATTEMPT_NOT_FOUND"
	ErrBatchNotFound   ErrCode = "BATCH_NOT_FOUND"
	ErrQuizNotFound    ErrCode = "QUIZ_NOT_FOUND"

	// ─── Concurrency ───────────────────────────────────────────────────
	ErrAlreadyActiveAttempt ErrCode = "ALREADY_ACTIVE_ATTEMPT"
	ErrAttemptStateConflict ErrCode = "ATTEMPT_STATE_CONFLICT"
	ErrBatchStateConflict   ErrCode = "BATCH_STATE_CONFLICT"

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	ErrAttemptNotActive      ErrCode = "ATTEMPT_NOT_ACTIVE"
	ErrAttemptNotSubmittable ErrCode = "ATTEMPT_NOT_SUBMITTABLE"
	ErrAttemptNotPaused      ErrCode = "ATTEMPT_NOT_PAUSED"
	ErrAttemptTerminal       ErrCode = "ATTEMPT_TERMINAL"
	ErrAttemptCompleted      ErrCode = "ATTEMPT_ALREADY_COMPLETED"
	ErrInvalidEntryToken     ErrCode = "INVALID_ENTRY_TOKEN"

	// ─── Batch lifecycle ───────────────────────────────────────────────
	ErrBatchNotOpen       ErrCode = "BATCH_NOT_OPEN"
	ErrBatchFrozen        ErrCode = "BATCH_FROZEN"
	ErrBatchNotFreezable  ErrCode = "BATCH_NOT_FREEZABLE"
	ErrBatchNotFrozen     ErrCode = "BATCH_NOT_FROZEN"
	ErrBatchFinished      ErrCode = "BATCH_FINISHED"
	ErrInvalidBatchWindow ErrCode = "INVALID_BATCH_WINDOW"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid atau telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrNotAttemptOwner:
		return "Sesi ujian ini milik peserta lain."
	case ErrNotEligible:
		return "Anda tidak terdaftar sebagai peserta sesi ujian ini."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrAttemptNotFound:
		return "Sesi ujian tidak ditemukan."
	case ErrBatchNotFound:
		return "Gelombang ujian tidak ditemukan."
	case ErrQuizNotFound:
		return "Soal ujian tidak ditemukan."

	// ─── Concurrency ───────────────────────────────────────────────────
	case ErrAlreadyActiveAttempt:
		return "Anda masih memiliki sesi ujian yang belum selesai."
	case ErrAttemptStateConflict:
		return "Sesi ujian baru saja berubah. Silakan muat ulang."
	case ErrBatchStateConflict:
		return "Gelombang ujian baru saja berubah. Silakan coba lagi."

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	case ErrAttemptNotActive:
		return "Sesi ujian tidak sedang berjalan."
	case ErrAttemptNotSubmittable:
		return "Sesi ujian tidak dapat dikumpulkan saat ini."
	case ErrAttemptNotPaused:
		return "Sesi ujian tidak sedang dijeda."
	case ErrAttemptTerminal:
		return "Sesi ujian sudah berakhir."
	case ErrAttemptCompleted:
		return "Anda sudah menyelesaikan ujian pada gelombang ini."
	case ErrInvalidEntryToken:
		return "Token masuk ujian tidak valid."

	// ─── Batch lifecycle ───────────────────────────────────────────────
	case ErrBatchNotOpen:
		return "Gelombang ujian belum dibuka atau sudah ditutup."
	case ErrBatchFrozen:
		return "Gelombang ujian sedang dibekukan."
	case ErrBatchNotFreezable:
		return "Gelombang ujian tidak dapat dibekukan."
	case ErrBatchNotFrozen:
		return "Gelombang ujian tidak sedang dibekukan."
	case ErrBatchFinished:
		return "Gelombang ujian sudah selesai."
	case ErrInvalidBatchWindow:
		return "Jadwal atau durasi gelombang ujian tidak valid."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
