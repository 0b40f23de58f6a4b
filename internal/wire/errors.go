package wire

// SVN error codes the session engine frames back to the client. Only the
// small subset the core actually raises is named here.
const (
	ErrRANotAuthorized = 170001
	ErrBadRevision     = 160006
	ErrFSNotFound      = 160013
	ErrFSOutOfDate     = 160028
	ErrFSNoSuchLock    = 160037
	ErrFSLockOwner     = 160039
	ErrUnsupportedFeature = 200007
)

// ServerError is one (code msg file line) tuple inside a failure response.
type ServerError struct {
	Code    int64
	Message string
}

// WriteError frames one or more ServerErrors as
// "( failure ( ( code:num msg:str file:str line:num ) ... ) )". The file
// field is always the empty-string placeholder and line is always 0,
// matching the reference implementation's refusal to leak server-side
// source locations to the client.
func WriteError(w *Writer, errs ...ServerError) error {
	return WriteList(w, func(w *Writer) error {
		if err := w.Word("failure"); err != nil {
			return err
		}
		return WriteList(w, func(w *Writer) error {
			for _, e := range errs {
				if err := WriteList(w, func(w *Writer) error {
					if err := w.Number(e.Code); err != nil {
						return err
					}
					if err := w.String([]byte(e.Message)); err != nil {
						return err
					}
					if err := w.String(nil); err != nil {
						return err
					}
					return w.Number(0)
				}); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// WriteSuccess frames a successful response as "( success ( ... ) )", where
// fn writes the inner list's contents.
func WriteSuccess(w *Writer, fn func(*Writer) error) error {
	return WriteList(w, func(w *Writer) error {
		if err := w.Word("success"); err != nil {
			return err
		}
		return WriteList(w, fn)
	})
}
