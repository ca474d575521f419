// Package agent runs local agent teams.
//
// A team folder contains an entry file named <folder>_main.<ext> that
// defines run_crew(inputs). The Dispatcher picks how to run it:
//
//  1. A Go function registered for the folder with Register
//  2. <folder>_main.lua, evaluated in a sandboxed gopher-lua state
//  3. Any extension with a configured interpreter (py by default), run as a
//     subprocess that receives the inputs as JSON on stdin and prints the
//     result as JSON on stdout
//
// Interpreted teams may ship a requirements.txt. When dependency
// installation is enabled the Provisioner installs it once per folder per
// process before the first run.
package agent
