// Package process runs one-shot child processes with bounded output and
// graceful cancellation.
//
// Agent-team entry points written in an external language (Python by
// default) and the dependency installer both run through this package.
//
// Features:
//   - Own process group, so cancellation reaches grandchildren too
//   - Optional stdin payload
//   - Bounded stdout/stderr capture
//   - SIGTERM on context end, SIGKILL after GracefulTimeout
//
// Example usage:
//
//	res, err := process.Run(ctx, process.Spec{
//	    Name:    "crew:daily_digest",
//	    Binary:  "python3",
//	    Args:    []string{"daily_digest_main.py"},
//	    WorkDir: "/srv/crews/daily_digest",
//	    Stdin:   payload,
//	})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(string(res.Stdout))
package process
