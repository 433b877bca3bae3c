package whistle

/*------------------------------------------------------------------
 *
 * Purpose:	Structured logging for the non-realtime parts of the engine.
 *		Never called from Stage.Process - the realtime callback
 *		thread must not allocate or do I/O, and a logging call is
 *		both.
 *
 *----------------------------------------------------------------*/

import "github.com/charmbracelet/log"

var dlLog = log.WithPrefix("dl")
